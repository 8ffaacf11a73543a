// Package request turns parameter maps into collector requests and delivers the request queue
package request

import (
	"errors"
	"sort"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// Builder merges the identity of the app and device into every request
type Builder struct {
	appKey   string
	deviceID string
}

// NewBuilder returns a request builder for the given identity
func NewBuilder(appKey string, deviceID string) *Builder {
	return &Builder{appKey: appKey, deviceID: deviceID}
}

// BuildRequest adds app_key and device_id to params and form-encodes the result.
// Keys already present in params win over the identity fields.
func (b *Builder) BuildRequest(params map[string]string) string {
	merged := make(map[string]string, len(params)+2)
	merged["app_key"] = b.appKey
	merged["device_id"] = b.deviceID
	for key, value := range params {
		merged[key] = value
	}
	return SerializeData(merged)
}

// SerializeData form-encodes params as key=value pairs joined by '&', sorted by key
func SerializeData(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(EncodeURL(key))
		sb.WriteByte('=')
		sb.WriteString(EncodeURL(params[key]))
	}
	return sb.String()
}

// EncodeURL percent-encodes every byte outside of [A-Za-z0-9-_.~]
func EncodeURL(data string) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0F])
	}
	return sb.String()
}

// ErrMalformedEscape is returned by DecodeURL for a '%' not followed by two hex digits
var ErrMalformedEscape = errors.New("malformed percent escape")

// DecodeURL reverses EncodeURL. '+' is kept as is.
func DecodeURL(data string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		if i+2 >= len(data) {
			return "", ErrMalformedEscape
		}
		hi, okHi := fromHex(data[i+1])
		lo, okLo := fromHex(data[i+2])
		if !okHi || !okLo {
			return "", ErrMalformedEscape
		}
		sb.WriteByte(hi<<4 | lo)
		i += 2
	}
	return sb.String(), nil
}

func isUnreserved(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
