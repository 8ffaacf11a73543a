package client

import (
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/countly/countly-go-sdk/countly/conf"
	"github.com/countly/countly-go-sdk/countly/request"
	"github.com/countly/countly-go-sdk/countly/service"
	"github.com/countly/countly-go-sdk/countly/storage/inmemory"
	"github.com/splitio/go-toolkit/v5/logging"
)

type MockWriter struct {
	mutex    sync.Mutex
	messages []string
}

func (m *MockWriter) Write(p []byte) (n int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.messages = append(m.messages, string(p))
	return len(p), nil
}

func (m *MockWriter) Matches(fragment string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, msg := range m.messages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func newLogger(w *MockWriter) logging.LoggerInterface {
	return logging.NewLogger(&logging.LoggerOptions{
		LogLevel:      logging.LevelDebug,
		ErrorWriter:   w,
		WarningWriter: w,
		InfoWriter:    w,
		DebugWriter:   w,
		VerboseWriter: w,
	})
}

type sentRequest struct {
	usePost bool
	path    string
	params  url.Values
}

type fakeCollector struct {
	mutex   sync.Mutex
	sent    []sentRequest
	fail    bool
	payload map[string]interface{}
}

func (f *fakeCollector) Send(usePost bool, path string, body string) service.Response {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.fail {
		return service.Response{}
	}
	params, _ := url.ParseQuery(body)
	f.sent = append(f.sent, sentRequest{usePost: usePost, path: path, params: params})
	if path == request.ReadPath {
		return service.Response{Success: true, Data: f.payload}
	}
	return service.Response{Success: true, Data: map[string]interface{}{"result": "Success"}}
}

func (f *fakeCollector) setFail(fail bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.fail = fail
}

func (f *fakeCollector) setPayload(payload map[string]interface{}) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.payload = payload
}

func (f *fakeCollector) requests() []sentRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]sentRequest(nil), f.sent...)
}

func (f *fakeCollector) last() sentRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.sent) == 0 {
		return sentRequest{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.current = c.current.Add(d)
}

type testSetup struct {
	client    *Client
	collector *fakeCollector
	clock     *fakeClock
	log       *MockWriter
}

func newTestClient(t *testing.T, configure func(cfg *conf.CountlyConfig)) testSetup {
	t.Helper()
	collector := &fakeCollector{}
	mW := &MockWriter{}
	logger := newLogger(mW)

	cfg := conf.Default()
	cfg.AppKey = "APP"
	cfg.ServerURL = "https://collector.test"
	cfg.DeviceID = "device-1"
	cfg.Transport = collector
	if configure != nil {
		configure(cfg)
	}
	if err := conf.Normalize(cfg); err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{current: time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)}
	client := NewClient(cfg, inmemory.NewRequestsStorage(), logger)
	client.now = clock.Now
	client.createdAt = clock.Now()
	return testSetup{client: client, collector: collector, clock: clock, log: mW}
}
