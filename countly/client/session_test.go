package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/countly/countly-go-sdk/countly/conf"
	"github.com/countly/countly-go-sdk/countly/events"
	"github.com/countly/countly-go-sdk/countly/request"
	"github.com/countly/countly-go-sdk/countly/service/dtos"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsIn(t *testing.T, params url.Values) []map[string]interface{} {
	t.Helper()
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(params.Get("events")), &decoded))
	return decoded
}

func TestStartValidation(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.AppKey = ""
		cfg.ServerURL = ""
	})

	err := setup.client.Start("", "https://collector.test", 0, false)
	assert.Error(t, err)
	assert.True(t, setup.log.Matches("Start: appKey must not be an empty String"))

	err = setup.client.Start("APP", "", 0, false)
	assert.Error(t, err)
	assert.True(t, setup.log.Matches("Start: host must not be an empty String"))

	err = setup.client.Start("APP", "collector.test", 70000, false)
	assert.Error(t, err)

	assert.Empty(t, setup.collector.requests())
	assert.False(t, setup.client.IsStarted())
}

func TestStartBeginsSession(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.Metrics = dtos.Metrics{OS: "Linux", AppVersion: "1.0"}
	})

	require.NoError(t, setup.client.Start("", "", 0, false))
	assert.True(t, setup.client.IsStarted())
	assert.True(t, setup.client.SessionBegan())
	assert.Equal(t, "https://collector.test", setup.client.host)
	assert.Equal(t, 443, setup.client.port)

	sent := setup.collector.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, request.WritePath, sent[0].path)
	assert.Equal(t, "1", sent[0].params.Get("begin_session"))
	assert.Equal(t, "APP", sent[0].params.Get("app_key"))
	assert.Equal(t, "device-1", sent[0].params.Get("device_id"))
	assert.Equal(t, strconv.FormatInt(setup.clock.Now().UnixMilli(), 10), sent[0].params.Get("timestamp"))
	assert.Equal(t, `{"_os":"Linux","_app_version":"1.0"}`, sent[0].params.Get("metrics"))

	// second start is ignored
	require.NoError(t, setup.client.Start("", "", 0, false))
	assert.Len(t, setup.collector.requests(), 1)
	assert.True(t, setup.log.Matches("already started"))
}

func TestStartDefaultsSchemeAndPort(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("KEY", "collector.test/", 0, false))
	assert.Equal(t, "http://collector.test", setup.client.host)
	assert.Equal(t, 80, setup.client.port)
	assert.Equal(t, "KEY", setup.collector.last().params.Get("app_key"))
}

func TestStartWithHTTPTransport(t *testing.T) {
	received := make(chan url.Values, 10)
	router := mux.NewRouter()
	router.HandleFunc("/i", func(w http.ResponseWriter, r *http.Request) {
		received <- r.URL.Query()
		w.Write([]byte(`{"result":"Success"}`))
	}).Methods(http.MethodGet)
	server := httptest.NewServer(router)
	defer server.Close()

	parsed, _ := url.Parse(server.URL)
	port, _ := strconv.Atoi(parsed.Port())

	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.Transport = nil
	})
	require.NoError(t, setup.client.Start("APP", parsed.Hostname(), port, false))
	assert.True(t, setup.client.SessionBegan())

	select {
	case query := <-received:
		assert.Equal(t, "1", query.Get("begin_session"))
		assert.Equal(t, "device-1", query.Get("device_id"))
	case <-time.After(time.Second):
		t.Error("begin_session should have reached the collector")
	}
}

func TestSessionDurationAccounting(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.SessionDuration = 2
	})
	require.NoError(t, setup.client.Start("", "", 0, false))
	began := setup.clock.Now()

	setup.clock.Advance(3*time.Second + 400*time.Millisecond)
	assert.True(t, setup.client.UpdateSession())

	sent := setup.collector.requests()
	require.Len(t, sent, 2)
	assert.Equal(t, "3", sent[1].params.Get("session_duration"))
	assert.Equal(t, began.Add(3*time.Second), setup.client.lastSentSessionRequest)

	// 1.4s since the last session request, below the interval
	setup.clock.Advance(time.Second)
	assert.True(t, setup.client.UpdateSession())
	assert.Len(t, setup.collector.requests(), 2)

	// the 400ms remainder is not lost
	setup.clock.Advance(600 * time.Millisecond)
	assert.True(t, setup.client.UpdateSession())
	sent = setup.collector.requests()
	require.Len(t, sent, 3)
	assert.Equal(t, "2", sent[2].params.Get("session_duration"))
	assert.Equal(t, began.Add(5*time.Second), setup.client.lastSentSessionRequest)
}

func TestUpdateSessionFailureKeepsAccounting(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.SessionDuration = 2
	})
	require.NoError(t, setup.client.Start("", "", 0, false))
	began := setup.clock.Now()

	setup.clock.Advance(3 * time.Second)
	setup.collector.setFail(true)
	assert.False(t, setup.client.UpdateSession())
	assert.Equal(t, began, setup.client.lastSentSessionRequest)

	setup.collector.setFail(false)
	setup.clock.Advance(time.Second)
	assert.True(t, setup.client.UpdateSession())
	assert.Equal(t, "4", setup.collector.last().params.Get("session_duration"))
}

func TestUpdateSessionFlushesEvents(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, false))

	require.NoError(t, setup.client.RecordEvent(events.NewEvent("first")))
	require.NoError(t, setup.client.RecordEvent(events.NewEvent("second").WithCount(2)))
	assert.Equal(t, 2, setup.client.EventQueueSize())

	assert.True(t, setup.client.UpdateSession())
	assert.Equal(t, 0, setup.client.EventQueueSize())
	assert.Equal(t, int64(0), setup.client.RequestQueueSize())

	sent := setup.collector.requests()
	require.Len(t, sent, 2)
	batch := eventsIn(t, sent[1].params)
	require.Len(t, batch, 2)
	assert.Equal(t, "first", batch[0]["key"])
	assert.Equal(t, float64(2), batch[1]["count"])
}

func TestUpdateSessionBeginsSessionFirst(t *testing.T) {
	setup := newTestClient(t, nil)
	setup.collector.setFail(true)
	require.NoError(t, setup.client.Start("", "", 0, false))
	assert.False(t, setup.client.SessionBegan())

	assert.False(t, setup.client.UpdateSession())

	setup.collector.setFail(false)
	assert.True(t, setup.client.UpdateSession())
	assert.True(t, setup.client.SessionBegan())
	assert.Equal(t, "1", setup.collector.requests()[0].params.Get("begin_session"))
}

func TestEndSession(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, false))
	require.NoError(t, setup.client.RecordEvent(events.NewEvent("pending")))

	setup.clock.Advance(5 * time.Second)
	assert.True(t, setup.client.EndSession())
	assert.False(t, setup.client.SessionBegan())

	sent := setup.collector.requests()
	require.Len(t, sent, 3)
	assert.Len(t, eventsIn(t, sent[1].params), 1)
	assert.Equal(t, "1", sent[2].params.Get("end_session"))
	assert.Equal(t, "5", sent[2].params.Get("session_duration"))

	// nothing left to end
	assert.True(t, setup.client.EndSession())
	assert.Len(t, setup.collector.requests(), 3)
}

func TestEndSessionFailureKeepsSession(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, false))

	setup.collector.setFail(true)
	assert.False(t, setup.client.EndSession())
	assert.True(t, setup.client.SessionBegan())
}

func TestEventThresholdScenario(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.EventQueueThreshold = 10
	})

	for i := 0; i < 18; i++ {
		require.NoError(t, setup.client.RecordEvent(events.NewEvent("e"+strconv.Itoa(i))))
	}

	assert.Equal(t, 8, setup.client.EventQueueSize())
	queued := setup.client.Requests()
	require.Len(t, queued, 1)
	params, err := url.ParseQuery(queued[0].Data)
	require.NoError(t, err)
	batch := eventsIn(t, params)
	require.Len(t, batch, 10)
	assert.Equal(t, "e0", batch[0]["key"])
	assert.Equal(t, "e9", batch[9]["key"])
}

func TestLoweringEventThresholdFlushes(t *testing.T) {
	setup := newTestClient(t, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, setup.client.RecordEvent(events.NewEvent("e")))
	}

	setup.client.SetEventQueueThreshold(3)
	assert.Equal(t, 0, setup.client.EventQueueSize())
	assert.Equal(t, int64(1), setup.client.RequestQueueSize())
}

func TestRequestQueueThreshold(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.RequestQueueThreshold = 3
		cfg.EventQueueThreshold = 1
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, setup.client.RecordEvent(events.NewEvent("e"+strconv.Itoa(i))))
	}
	queued := setup.client.Requests()
	require.Len(t, queued, 3)
	assert.True(t, strings.Contains(queued[0].Data, "e2"))
	assert.True(t, setup.log.Matches("dropping oldest request"))

	setup.client.SetRequestQueueThreshold(1)
	assert.Equal(t, int64(1), setup.client.RequestQueueSize())
}

func TestRecordEventValidation(t *testing.T) {
	setup := newTestClient(t, nil)

	assert.Error(t, setup.client.RecordEvent(nil))
	assert.Error(t, setup.client.RecordEvent(&events.Event{Key: "", Count: 1}))
	assert.Error(t, setup.client.RecordEvent(&events.Event{Key: "k", Count: 0}))
	assert.Error(t, setup.client.RecordEvent(&events.Event{
		Key:          "k",
		Count:        1,
		Segmentation: map[string]interface{}{"bad": []string{"x"}},
	}))
	assert.True(t, setup.log.Matches("RecordEvent: count must be >= 1. Actual is: 0"))
	assert.Equal(t, 0, setup.client.EventQueueSize())
}

func TestSetDeviceIDWithoutMerge(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, false))
	require.NoError(t, setup.client.RecordEvent(events.NewEvent("pending")))

	setup.client.SetDeviceID("new-id", false)

	sent := setup.collector.requests()
	require.Len(t, sent, 4)

	assert.Len(t, eventsIn(t, sent[1].params), 1)
	assert.Equal(t, "device-1", sent[1].params.Get("device_id"))

	assert.Equal(t, "1", sent[2].params.Get("end_session"))
	assert.Equal(t, "device-1", sent[2].params.Get("device_id"))

	assert.Equal(t, "1", sent[3].params.Get("begin_session"))
	assert.Equal(t, "new-id", sent[3].params.Get("device_id"))
	assert.Empty(t, sent[3].params.Get("old_device_id"))

	assert.Equal(t, "new-id", setup.client.DeviceID())
	assert.True(t, setup.client.SessionBegan())
}

func TestSetDeviceIDWithMerge(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, false))

	setup.client.SetDeviceID("merged", true)

	sent := setup.collector.requests()
	require.Len(t, sent, 4)
	assert.Equal(t, "1", sent[1].params.Get("end_session"))
	assert.Equal(t, "device-1", sent[1].params.Get("device_id"))

	assert.Equal(t, "device-1", sent[2].params.Get("old_device_id"))
	assert.Equal(t, "merged", sent[2].params.Get("device_id"))

	assert.Equal(t, "1", sent[3].params.Get("begin_session"))
	assert.Equal(t, "merged", sent[3].params.Get("device_id"))
}

func TestSetDeviceIDWithMergeBeginsSessionWhenStarted(t *testing.T) {
	setup := newTestClient(t, nil)
	setup.collector.setFail(true)
	require.NoError(t, setup.client.Start("", "", 0, false))
	require.False(t, setup.client.SessionBegan())
	setup.collector.setFail(false)

	setup.client.SetDeviceID("merged", true)

	for _, sent := range setup.collector.requests() {
		assert.Empty(t, sent.params.Get("end_session"))
	}
	last := setup.collector.last()
	assert.Equal(t, "1", last.params.Get("begin_session"))
	assert.Equal(t, "merged", last.params.Get("device_id"))
	assert.True(t, setup.client.SessionBegan())
}

func TestSetDeviceIDWithMergeBeforeStart(t *testing.T) {
	setup := newTestClient(t, nil)

	setup.client.SetDeviceID("merged", true)

	sent := setup.collector.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, "device-1", sent[0].params.Get("old_device_id"))
	assert.False(t, setup.client.SessionBegan())
}

func TestSetDeviceIDIgnoresInvalidOrUnchanged(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, false))

	setup.client.SetDeviceID("device-1", false)
	setup.client.SetDeviceID("", true)
	assert.Len(t, setup.collector.requests(), 1)
	assert.Equal(t, "device-1", setup.client.DeviceID())
	assert.True(t, setup.log.Matches("SetDeviceID: deviceID must not be an empty String"))
}

func TestSaltAndForcePost(t *testing.T) {
	setup := newTestClient(t, nil)
	setup.client.SetSalt("pepper")
	setup.client.SetForcePost(true)
	require.NoError(t, setup.client.Start("", "", 0, false))

	last := setup.collector.last()
	assert.True(t, last.usePost)
	checksum := last.params.Get("checksum256")
	assert.Len(t, checksum, 64)

	setup.client.SetHashFunction(func(string) string { return "fixed" })
	setup.client.EndSession()
	assert.Equal(t, "fixed", setup.collector.last().params.Get("checksum256"))
}

func TestStopJoinsLoopAndEndsSession(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.TaskPeriods.SessionUpdate = 1
	})
	require.NoError(t, setup.client.Start("", "", 0, true))
	require.NoError(t, setup.client.RecordEvent(events.NewEvent("looped")))

	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, 0, setup.client.EventQueueSize())

	setup.client.Stop()
	assert.False(t, setup.client.IsStarted())
	assert.False(t, setup.client.SessionBegan())
	assert.Equal(t, "1", setup.collector.last().params.Get("end_session"))

	count := len(setup.collector.requests())
	time.Sleep(1200 * time.Millisecond)
	assert.Len(t, setup.collector.requests(), count)

	// the client can be started again
	require.NoError(t, setup.client.Start("", "", 0, false))
	assert.Equal(t, "1", setup.collector.last().params.Get("begin_session"))
}

func TestStopWhileChangingLoopPeriodLeavesNoLoop(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.TaskPeriods.SessionUpdate = 1
	})
	require.NoError(t, setup.client.Start("", "", 0, true))

	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				setup.client.SetUpdateLoopPeriod(1)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		setup.client.Stop()
	}()
	wg.Wait()

	setup.client.mutex.Lock()
	task := setup.client.updateTask
	setup.client.mutex.Unlock()
	assert.Nil(t, task)
	assert.False(t, setup.client.IsStarted())

	// a leftover loop would begin a new session on its next run
	count := len(setup.collector.requests())
	time.Sleep(1500 * time.Millisecond)
	assert.Len(t, setup.collector.requests(), count)
	assert.False(t, setup.client.SessionBegan())
}

func TestSetUpdateLoopPeriodRestartsRunningLoop(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.TaskPeriods.SessionUpdate = 60
	})
	require.NoError(t, setup.client.Start("", "", 0, true))
	require.NoError(t, setup.client.RecordEvent(events.NewEvent("looped")))

	setup.client.SetUpdateLoopPeriod(1)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 0, setup.client.EventQueueSize())

	setup.client.Stop()
}

func TestDestroyDoesNotEndSession(t *testing.T) {
	setup := newTestClient(t, nil)
	require.NoError(t, setup.client.Start("", "", 0, true))

	setup.client.Destroy()
	assert.False(t, setup.client.IsStarted())
	assert.True(t, setup.client.SessionBegan())
	assert.Len(t, setup.collector.requests(), 1)

	setup.client.Destroy()
}

func TestConcurrentRecordAndUpdate(t *testing.T) {
	setup := newTestClient(t, func(cfg *conf.CountlyConfig) {
		cfg.EventQueueThreshold = 10
	})
	require.NoError(t, setup.client.Start("", "", 0, false))

	wg := sync.WaitGroup{}
	for producer := 0; producer < 4; producer++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				setup.client.RecordEvent(events.NewEvent("concurrent"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			setup.client.UpdateSession()
		}
	}()
	wg.Wait()

	assert.True(t, setup.client.UpdateSession())

	total := 0
	for _, sent := range setup.collector.requests() {
		if sent.params.Get("events") != "" {
			total += len(eventsIn(t, sent.params))
		}
	}
	assert.Equal(t, 200, total)
}
