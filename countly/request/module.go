package request

import (
	"fmt"
	"sync"

	"github.com/countly/countly-go-sdk/countly/service"
	"github.com/countly/countly-go-sdk/countly/storage"
	"github.com/splitio/go-toolkit/v5/logging"
	"golang.org/x/sync/singleflight"
)

const (
	// PostThreshold is the body length above which requests are sent with POST
	PostThreshold = 2000

	// WritePath is the collector endpoint receiving sessions, events, crashes and user details
	WritePath = "/i"

	// ReadPath is the collector endpoint answering sdk queries such as remote config
	ReadPath = "/o/sdk"

	processQueueKey = "processQueue"
)

// Options holds the identity and delivery settings of a Module
type Options struct {
	AppKey       string
	DeviceID     string
	Salt         string
	ForcePost    bool
	HashFunction func(string) string
	MaxQueueSize int
}

// Module owns the outbound request queue. Queued requests are delivered in insertion
// order; a failed delivery stops the drain and is retried on the next ProcessQueue call.
type Module struct {
	storage      storage.RequestStorage
	transport    service.Transport
	builder      *Builder
	logger       logging.LoggerInterface
	salt         string
	forcePost    bool
	hash         func(string) string
	maxQueueSize int
	group        singleflight.Group
	mutex        sync.Mutex
}

// NewModule creates a request module on top of an initialized storage
func NewModule(store storage.RequestStorage, transport service.Transport, opts Options, logger logging.LoggerInterface) *Module {
	if opts.MaxQueueSize < 1 {
		opts.MaxQueueSize = 1
	}
	return &Module{
		storage:      store,
		transport:    transport,
		builder:      NewBuilder(opts.AppKey, opts.DeviceID),
		logger:       logger,
		salt:         opts.Salt,
		forcePost:    opts.ForcePost,
		hash:         opts.HashFunction,
		maxQueueSize: opts.MaxQueueSize,
	}
}

// SetTransport replaces the transport used for delivery
func (m *Module) SetTransport(transport service.Transport) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.transport = transport
}

// SetAppKey changes the app key added to requests built from now on
func (m *Module) SetAppKey(appKey string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.builder.appKey = appKey
}

// SetDeviceID changes the device id added to requests built from now on.
// Requests already queued keep the id they were built with.
func (m *Module) SetDeviceID(deviceID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.builder.deviceID = deviceID
}

// DeviceID returns the device id currently added to requests
func (m *Module) DeviceID() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.builder.deviceID
}

// SetSalt sets the checksum salt. An empty salt disables checksums.
func (m *Module) SetSalt(salt string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.salt = salt
}

// SetForcePost forces every request to be sent with POST
func (m *Module) SetForcePost(forcePost bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.forcePost = forcePost
}

// SetHashFunction replaces the checksum function
func (m *Module) SetHashFunction(hash func(string) string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.hash = hash
}

// SetMaxQueueSize changes the queue bound, dropping the oldest requests if the queue is now too big
func (m *Module) SetMaxQueueSize(size int) {
	if size < 1 {
		size = 1
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.maxQueueSize = size
	m.evict(int64(size))
}

// AddRequestToQueue builds a request from params and appends it to the queue.
// When the queue is full the oldest request is discarded first.
func (m *Module) AddRequestToQueue(params map[string]string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	body := m.builder.BuildRequest(params)
	m.evict(int64(m.maxQueueSize) - 1)
	m.storage.InsertAtEnd(body)
}

// evict drops requests from the front until at most limit remain. Must be called with the mutex held.
func (m *Module) evict(limit int64) {
	if limit < 0 {
		limit = 0
	}
	for count := m.storage.Count(); count > limit; count-- {
		front, ok := m.storage.PeekFront()
		if !ok {
			return
		}
		m.storage.RemoveEntry(front)
		m.logger.Warning(fmt.Sprintf("Request queue is full (%d), dropping oldest request %d", m.maxQueueSize, front.ID))
	}
}

// Count returns the number of queued requests
func (m *Module) Count() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.storage.Count()
}

// Requests returns every queued request, oldest first
func (m *Module) Requests() []storage.DataEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.storage.PeekAll()
}

// Clear drops every queued request
func (m *Module) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.storage.ClearAll()
}

// ProcessQueue delivers queued requests from the front until the queue is empty or a
// delivery fails. It returns true if the queue was fully drained. Concurrent callers
// share a single drain; a caller joining a drain that already passed its request drains
// again until the queue is seen empty.
func (m *Module) ProcessQueue() bool {
	for {
		drained, _, _ := m.group.Do(processQueueKey, func() (interface{}, error) {
			return m.processQueue(), nil
		})
		if !drained.(bool) {
			return false
		}

		m.mutex.Lock()
		_, pending := m.storage.PeekFront()
		m.mutex.Unlock()
		if !pending {
			return true
		}
	}
}

func (m *Module) processQueue() bool {
	lastSent := int64(-1)
	for {
		m.mutex.Lock()
		entry, ok := m.storage.PeekFront()
		m.mutex.Unlock()

		if !ok {
			return true
		}
		if entry.ID == lastSent {
			m.logger.Error(fmt.Sprintf("Request %d could not be removed after delivery, stopping queue processing", entry.ID))
			return false
		}

		response := m.send(WritePath, entry.Data)
		if !response.Success {
			m.logger.Warning(fmt.Sprintf("Delivery of request %d failed, will retry later", entry.ID))
			return false
		}

		// the entry may have been evicted while in flight, RemoveEntry is then a no-op
		m.mutex.Lock()
		m.storage.RemoveEntry(entry)
		m.mutex.Unlock()
		lastSent = entry.ID
	}
}

// SendRequest builds a request from params and sends it right away, bypassing the queue
func (m *Module) SendRequest(path string, params map[string]string) service.Response {
	m.mutex.Lock()
	body := m.builder.BuildRequest(params)
	m.mutex.Unlock()

	return m.send(path, body)
}

func (m *Module) send(path string, body string) service.Response {
	m.mutex.Lock()
	transport := m.transport
	salt := m.salt
	hash := m.hash
	forcePost := m.forcePost
	m.mutex.Unlock()

	if transport == nil {
		m.logger.Error("No transport configured, request not sent")
		return service.Response{}
	}

	if salt != "" && hash != nil {
		body = AppendChecksum(body, salt, hash)
	}
	usePost := forcePost || len(body) > PostThreshold

	m.logger.Verbose("[REQUEST_BODY]", path, body, "[END_REQUEST_BODY]")
	return transport.Send(usePost, path, body)
}

// AppendChecksum appends checksum256=hash(body+salt) to body
func AppendChecksum(body string, salt string, hash func(string) string) string {
	checksum := "checksum256=" + hash(body+salt)
	if body == "" {
		return checksum
	}
	return body + "&" + checksum
}
