package dtos

import "github.com/goccy/go-json"

// CrashReport is the payload of a crash request
type CrashReport struct {
	Name       string                 `json:"_name"`
	Error      string                 `json:"_error"`
	NonFatal   bool                   `json:"_nonfatal"`
	Logs       string                 `json:"_logs,omitempty"`
	Run        int64                  `json:"_run"`
	OS         string                 `json:"_os,omitempty"`
	OSVersion  string                 `json:"_os_version,omitempty"`
	Device     string                 `json:"_device,omitempty"`
	Resolution string                 `json:"_resolution,omitempty"`
	AppVersion string                 `json:"_app_version,omitempty"`
	Custom     map[string]interface{} `json:"_custom,omitempty"`
}

// NewCrashReport creates a crash report carrying the device metrics
func NewCrashReport(metrics Metrics, name string, stackTrace string, fatal bool) CrashReport {
	return CrashReport{
		Name:       name,
		Error:      stackTrace,
		NonFatal:   !fatal,
		OS:         metrics.OS,
		OSVersion:  metrics.OSVersion,
		Device:     metrics.Device,
		Resolution: metrics.Resolution,
		AppVersion: metrics.AppVersion,
	}
}

// JSON returns the wire representation of the crash report
func (c CrashReport) JSON() string {
	serialized, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(serialized)
}
