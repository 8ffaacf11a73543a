// Package client contains the Countly SDK client and the factory used to instantiate it.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/countly/countly-go-sdk/countly"
	"github.com/countly/countly-go-sdk/countly/conf"
	"github.com/countly/countly-go-sdk/countly/events"
	"github.com/countly/countly-go-sdk/countly/request"
	"github.com/countly/countly-go-sdk/countly/service"
	"github.com/countly/countly-go-sdk/countly/service/api"
	"github.com/countly/countly-go-sdk/countly/service/dtos"
	"github.com/countly/countly-go-sdk/countly/storage"
	"github.com/countly/countly-go-sdk/countly/tasks"
	"github.com/google/uuid"
	"github.com/splitio/go-toolkit/v5/asynctask"
	"github.com/splitio/go-toolkit/v5/logging"
)

// Client is the entry point of the SDK. It owns the session state machine, the event
// queue and the request queue. Every method is safe for concurrent use.
type Client struct {
	mutex     sync.Mutex
	loopMutex sync.Mutex // serializes update loop handoffs, taken before mutex
	logger    logging.LoggerInterface
	validator inputValidation
	storage   storage.RequestStorage
	requests  *request.Module
	events    *events.Queue

	appKey          string
	host            string
	port            int
	deviceID        string
	httpTimeout     int
	customTransport bool

	sessionDuration       int
	updatePeriod          int
	metrics               dtos.Metrics
	remoteConfigAutoFetch bool
	remoteConfig          map[string]interface{}

	breadcrumbs         []string
	breadcrumbThreshold int
	views               map[string]openView
	viewCount           int

	started                bool
	began                  bool
	lastSentSessionRequest time.Time
	createdAt              time.Time
	updateTask             *asynctask.AsyncTask
	destroyed              bool
	trackedAppKey          *string

	now func() time.Time
}

// NewClient creates a client on top of an initialized request storage. cfg is expected
// to be normalized.
func NewClient(cfg *conf.CountlyConfig, store storage.RequestStorage, logger logging.LoggerInterface) *Client {
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
		logger.Debug(fmt.Sprintf("No device id configured, generated %s", deviceID))
	}

	requests := request.NewModule(store, cfg.Transport, request.Options{
		AppKey:       cfg.AppKey,
		DeviceID:     deviceID,
		Salt:         cfg.Salt,
		ForcePost:    cfg.ForcePost,
		HashFunction: cfg.HashFunction,
		MaxQueueSize: cfg.RequestQueueThreshold,
	}, logger)

	return &Client{
		logger:                logger,
		validator:             inputValidation{logger: logger},
		storage:               store,
		requests:              requests,
		events:                events.NewQueue(cfg.EventQueueThreshold, requests),
		appKey:                cfg.AppKey,
		host:                  cfg.ServerURL,
		port:                  cfg.Port,
		deviceID:              deviceID,
		httpTimeout:           cfg.HTTPTimeout,
		customTransport:       cfg.Transport != nil,
		sessionDuration:       cfg.SessionDuration,
		updatePeriod:          cfg.TaskPeriods.SessionUpdate,
		metrics:               cfg.Metrics,
		remoteConfigAutoFetch: cfg.RemoteConfigAutoFetch,
		remoteConfig:          make(map[string]interface{}),
		breadcrumbs:           make([]string, 0),
		breadcrumbThreshold:   cfg.BreadcrumbThreshold,
		views:                 make(map[string]openView),
		createdAt:             time.Now(),
		now:                   time.Now,
	}
}

// Start points the client at a collector and begins a session. Empty appKey or host
// fall back to the configured values, port 0 picks the default port for the scheme.
// When startUpdateLoop is set a background task updates the session periodically.
func (c *Client) Start(appKey string, host string, port int, startUpdateLoop bool) error {
	c.loopMutex.Lock()
	defer c.loopMutex.Unlock()
	c.mutex.Lock()

	if appKey == "" {
		appKey = c.appKey
	}
	if host == "" {
		host = c.host
	}
	if port == 0 {
		port = c.port
	}
	if err := c.validator.ValidateStartInputs(appKey, host, port); err != nil {
		c.mutex.Unlock()
		c.logger.Error(err.Error())
		return err
	}

	if c.started {
		c.mutex.Unlock()
		c.logger.Warning("Client is already started, ignoring Start call")
		return nil
	}

	c.appKey = appKey
	c.host, c.port = conf.ResolveHost(host, port)
	c.requests.SetAppKey(c.appKey)
	if !c.customTransport {
		c.requests.SetTransport(api.NewHTTPTransport(c.host, c.port, c.httpTimeout, countly.SDKName+"/"+countly.Version, c.logger))
	}
	c.started = true
	c.logger.Info(fmt.Sprintf("Countly SDK %s started against %s:%d", countly.Version, c.host, c.port))

	if !c.beginSession() {
		c.logger.Warning("Could not begin session, it will be retried on next session update")
	}

	if startUpdateLoop {
		c.startLoop()
	}
	c.mutex.Unlock()
	return nil
}

// startLoop must be called with both mutexes held. The first run happens one period later,
// so starting never waits on the client mutex.
func (c *Client) startLoop() {
	c.updateTask = tasks.NewSessionUpdateTask(c.UpdateSession, c.updatePeriod, c.logger)
	c.updateTask.Start()
}

// joinLoop stops task and waits for it to exit. Must be called with loopMutex held and
// mutex released, since each run of the task takes the client mutex.
func (c *Client) joinLoop(task *asynctask.AsyncTask) {
	if task == nil {
		return
	}
	if err := task.Stop(true); err != nil {
		c.logger.Warning("Error stopping session update task: ", err.Error())
	}
}

// IsStarted returns true between Start and Stop/Destroy
func (c *Client) IsStarted() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.started
}

// stopLoop marks the client as stopped and waits for the update task to exit
func (c *Client) stopLoop() {
	c.loopMutex.Lock()
	defer c.loopMutex.Unlock()

	c.mutex.Lock()
	task := c.updateTask
	c.updateTask = nil
	c.started = false
	c.mutex.Unlock()

	c.joinLoop(task)
}

// Stop stops the update loop, waits for it to exit and ends the session
func (c *Client) Stop() {
	c.stopLoop()
	if !c.EndSession() {
		c.logger.Warning("Could not end session on stop")
	}
}

// Destroy stops the update loop and releases the request storage without ending the session.
// The client must not be used afterwards.
func (c *Client) Destroy() {
	c.stopLoop()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.trackedAppKey != nil {
		untrackInstance(*c.trackedAppKey)
	}
	if err := c.storage.Close(); err != nil {
		c.logger.Error("Error closing request storage: ", err.Error())
	}
}

// RecordEvent validates and queues an event. The queued events are flushed into a
// single request when the event queue threshold is reached.
func (c *Client) RecordEvent(event *events.Event) error {
	if err := c.validator.ValidateEvent(event); err != nil {
		c.logger.Error(err.Error())
		return err
	}

	serialized, err := event.Serialize()
	if err != nil {
		c.logger.Error("RecordEvent: ", err.Error())
		return err
	}
	c.logger.Debug("RecordEvent: ", serialized)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.events.Record(serialized)
	return nil
}

// FlushEvents moves every queued event into the request queue
func (c *Client) FlushEvents() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.events.Flush()
}

// ProcessQueue tries to deliver every queued request. It returns true when the queue is empty.
func (c *Client) ProcessQueue() bool {
	return c.requests.ProcessQueue()
}

// DeviceID returns the current device id
func (c *Client) DeviceID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.deviceID
}

// EventQueueSize returns the number of events waiting for a flush
func (c *Client) EventQueueSize() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.events.Size()
}

// RequestQueueSize returns the number of requests waiting for delivery
func (c *Client) RequestQueueSize() int64 {
	return c.requests.Count()
}

// Requests returns the queued requests, oldest first
func (c *Client) Requests() []storage.DataEntry {
	return c.requests.Requests()
}

// SetSalt sets the checksum salt. An empty salt disables checksums.
func (c *Client) SetSalt(salt string) {
	c.requests.SetSalt(salt)
}

// SetForcePost forces every request to be sent with POST
func (c *Client) SetForcePost(forcePost bool) {
	c.requests.SetForcePost(forcePost)
}

// SetHashFunction replaces the checksum function
func (c *Client) SetHashFunction(hash func(string) string) {
	if hash == nil {
		hash = conf.SHA256
	}
	c.requests.SetHashFunction(hash)
}

// SetTransport replaces the transport used to reach the collector
func (c *Client) SetTransport(transport service.Transport) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.customTransport = transport != nil
	c.requests.SetTransport(transport)
}

// SetEventQueueThreshold changes the event queue threshold, clamped to [1, 10000].
// Queued events are flushed right away if they already reach the new threshold.
func (c *Client) SetEventQueueThreshold(threshold int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.events.SetThreshold(threshold)
}

// SetRequestQueueThreshold changes the request queue bound, dropping the oldest requests if needed
func (c *Client) SetRequestQueueThreshold(threshold int) {
	if threshold < 1 {
		c.logger.Warning(fmt.Sprintf("RequestQueueThreshold must be >= 1. Actual is: %d, using 1", threshold))
	}
	c.requests.SetMaxQueueSize(threshold)
}

// SetAutomaticSessionUpdateInterval sets the seconds between session_duration requests
func (c *Client) SetAutomaticSessionUpdateInterval(seconds int) {
	if seconds < 1 {
		c.logger.Warning(fmt.Sprintf("SessionDuration must be >= 1. Actual is: %d, using 1", seconds))
		seconds = 1
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sessionDuration = seconds
}

// SetUpdateLoopPeriod sets the seconds between two runs of the update loop. A running loop is restarted.
func (c *Client) SetUpdateLoopPeriod(seconds int) {
	if seconds < 1 {
		c.logger.Warning(fmt.Sprintf("SessionUpdate must be >= 1. Actual is: %d, using 1", seconds))
		seconds = 1
	}

	c.loopMutex.Lock()
	defer c.loopMutex.Unlock()

	c.mutex.Lock()
	c.updatePeriod = seconds
	old := c.updateTask
	c.updateTask = nil
	c.mutex.Unlock()
	if old == nil {
		return
	}

	c.joinLoop(old)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.started {
		c.startLoop()
	}
}

// SetMetrics sets the device metrics sent with the next begin_session request and with crash reports
func (c *Client) SetMetrics(metrics dtos.Metrics) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.metrics = metrics
}

// SetRemoteConfigAutoFetch enables fetching remote config each time a session begins
func (c *Client) SetRemoteConfigAutoFetch(enabled bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.remoteConfigAutoFetch = enabled
}
