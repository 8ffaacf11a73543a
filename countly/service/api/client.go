// Package api contains the default HTTP transport to the Countly collector
package api

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/countly/countly-go-sdk/countly/service"
	"github.com/goccy/go-json"
	"github.com/splitio/go-toolkit/v5/logging"
)

const defaultHTTPTimeout = 30

// HTTPTransport wraps up a net/http.Client pointed at one collector
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	headers    map[string]string
	logger     logging.LoggerInterface
}

// NewHTTPTransport returns a transport sending to host:port. Host must carry its scheme.
func NewHTTPTransport(host string, port int, timeout int, sdkVersion string, logger logging.LoggerInterface) *HTTPTransport {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPTransport{
		url:        fmt.Sprintf("%s:%d", host, port),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		headers:    map[string]string{"User-Agent": sdkVersion},
		logger:     logger,
	}
}

// AddHeader adds a header sent with every request
func (c *HTTPTransport) AddHeader(name string, value string) {
	c.headers[name] = value
}

// URL returns the collector base url
func (c *HTTPTransport) URL() string {
	return c.url
}

// Send delivers body to path. GET requests carry the body as query string, POST requests
// as a form encoded payload. Any status in [200, 400) counts as success.
func (c *HTTPTransport) Send(usePost bool, path string, body string) service.Response {
	var req *http.Request
	var err error
	if usePost {
		c.logger.Debug("[POST] ", c.url+path)
		req, err = http.NewRequest(http.MethodPost, c.url+path, strings.NewReader(body))
		if err == nil {
			req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		c.logger.Debug("[GET] ", c.url+path)
		req, err = http.NewRequest(http.MethodGet, c.url+path+"?"+body, nil)
	}
	if err != nil {
		c.logger.Error("Could not build request to collector: ", err.Error())
		return service.Response{}
	}

	req.Header.Add("Accept-Encoding", "gzip")
	for headerName, headerValue := range c.headers {
		req.Header.Add(headerName, headerValue)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warning("Error sending request to collector: ", c.url+path, err.Error())
		return service.Response{}
	}
	defer resp.Body.Close()

	var reader io.ReadCloser
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err = gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warning("Invalid gzip response from collector: ", err.Error())
			return service.Response{Success: isSuccess(resp.StatusCode)}
		}
		defer reader.Close()
	default:
		reader = resp.Body
	}

	respBody, err := io.ReadAll(reader)
	if err != nil {
		c.logger.Warning("Error reading collector response: ", err.Error())
		return service.Response{Success: isSuccess(resp.StatusCode)}
	}

	c.logger.Verbose("[RESPONSE_BODY]", string(respBody), "[END_RESPONSE_BODY]")

	response := service.Response{Success: isSuccess(resp.StatusCode)}
	if !response.Success {
		c.logger.Warning(fmt.Sprintf("Collector answered %s with status code %d", path, resp.StatusCode))
	}
	if len(respBody) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(respBody, &data); err != nil {
			c.logger.Warning("Collector response is not a JSON object: ", err.Error())
		} else {
			response.Data = data
		}
	}
	return response
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 400
}
