// Package dtos contains the JSON payloads the SDK attaches to collector requests
package dtos

import "github.com/goccy/go-json"

// Metrics describes the device and application the SDK runs on.
// It is sent along with every begin_session request and every crash report.
type Metrics struct {
	OS         string `json:"_os,omitempty" yaml:"os"`
	OSVersion  string `json:"_os_version,omitempty" yaml:"os_version"`
	Device     string `json:"_device,omitempty" yaml:"device"`
	Resolution string `json:"_resolution,omitempty" yaml:"resolution"`
	Carrier    string `json:"_carrier,omitempty" yaml:"carrier"`
	AppVersion string `json:"_app_version,omitempty" yaml:"app_version"`
}

// IsEmpty returns true when no metric has been set
func (m Metrics) IsEmpty() bool {
	return m == Metrics{}
}

// JSON returns the wire representation of the metrics bundle
func (m Metrics) JSON() string {
	serialized, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(serialized)
}
