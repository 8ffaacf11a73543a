// Package service defines the boundary between the SDK core and the collector transport
package service

// Response is the outcome of a single call to the collector.
// Data is nil when the collector answered with something that is not a JSON object.
type Response struct {
	Success bool
	Data    map[string]interface{}
}

// Transport sends an already encoded request body to a collector path
type Transport interface {
	Send(usePost bool, path string, body string) Response
}

// TransportFunc adapts a plain function to the Transport interface
type TransportFunc func(usePost bool, path string, body string) Response

// Send calls f(usePost, path, body)
func (f TransportFunc) Send(usePost bool, path string, body string) Response {
	return f(usePost, path, body)
}
