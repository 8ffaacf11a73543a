package client

import (
	"fmt"
	"strconv"
	"time"

	"github.com/countly/countly-go-sdk/countly"
	"github.com/countly/countly-go-sdk/countly/request"
)

// sessionParams returns the fields shared by every session request. Must be called with the mutex held.
func (c *Client) sessionParams() map[string]string {
	now := c.now()
	_, offset := now.Zone()
	return map[string]string{
		"sdk_name":    countly.SDKName,
		"sdk_version": countly.Version,
		"timestamp":   strconv.FormatInt(now.UnixMilli(), 10),
		"hour":        strconv.Itoa(now.Hour()),
		"dow":         strconv.Itoa(int(now.Weekday())),
		"tz":          strconv.Itoa(offset / 60),
	}
}

// elapsedSeconds returns the whole seconds since the last session request. Must be called with the mutex held.
func (c *Client) elapsedSeconds() int64 {
	elapsed := int64(c.now().Sub(c.lastSentSessionRequest) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// BeginSession sends a begin_session request. It is a no-op returning true if a session already began.
func (c *Client) BeginSession() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.beginSession()
}

func (c *Client) beginSession() bool {
	if c.began {
		c.logger.Debug("Session already began")
		return true
	}

	params := c.sessionParams()
	params["begin_session"] = "1"
	if !c.metrics.IsEmpty() {
		params["metrics"] = c.metrics.JSON()
	}

	response := c.requests.SendRequest(request.WritePath, params)
	if !response.Success {
		c.logger.Warning("begin_session request was not delivered")
		return false
	}

	c.began = true
	c.lastSentSessionRequest = c.now()
	c.logger.Debug("Session began for device ", c.deviceID)

	if c.remoteConfigAutoFetch {
		c.fetchRemoteConfig(nil, nil)
	}
	return true
}

// UpdateSession begins a session if none is running, sends a session_duration request once
// the automatic session update interval has elapsed, flushes queued events and delivers the
// request queue. It returns false if any of those requests could not be delivered.
func (c *Client) UpdateSession() bool {
	c.mutex.Lock()
	if !c.began && !c.beginSession() {
		c.mutex.Unlock()
		return false
	}

	success := true
	elapsed := c.elapsedSeconds()
	if elapsed >= int64(c.sessionDuration) {
		params := c.sessionParams()
		params["session_duration"] = strconv.FormatInt(elapsed, 10)
		if c.requests.SendRequest(request.WritePath, params).Success {
			c.lastSentSessionRequest = c.lastSentSessionRequest.Add(time.Duration(elapsed) * time.Second)
		} else {
			c.logger.Warning("session_duration request was not delivered")
			success = false
		}
	}

	if c.events.Size() > 0 {
		c.events.Flush()
	}
	c.mutex.Unlock()

	if !c.requests.ProcessQueue() {
		success = false
	}
	return success
}

// EndSession flushes queued events, delivers the request queue and sends an end_session
// request carrying the duration since the last session request. It returns true if no
// session had begun.
func (c *Client) EndSession() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.endSession()
}

func (c *Client) endSession() bool {
	if !c.began {
		c.logger.Debug("No session to end")
		return true
	}

	c.events.Flush()
	if !c.requests.ProcessQueue() {
		c.logger.Warning("Queued requests could not be delivered before end_session")
	}

	params := c.sessionParams()
	params["end_session"] = "1"
	params["session_duration"] = strconv.FormatInt(c.elapsedSeconds(), 10)

	if !c.requests.SendRequest(request.WritePath, params).Success {
		c.logger.Warning("end_session request was not delivered")
		return false
	}

	c.began = false
	c.logger.Debug("Session ended for device ", c.deviceID)
	return true
}

// SessionBegan returns true while a session is open on the collector
func (c *Client) SessionBegan() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.began
}

// SetDeviceID changes the device id. With sameUser, the collector is asked to merge the
// old device into the new one. Otherwise the pending events are delivered under the old
// id, the current session is ended and a new one begins under the new id, with no merge.
func (c *Client) SetDeviceID(deviceID string, sameUser bool) {
	if err := c.validator.ValidateDeviceID(deviceID); err != nil {
		c.logger.Error(err.Error())
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if deviceID == c.deviceID {
		c.logger.Debug("SetDeviceID: device id unchanged")
		return
	}

	if sameUser {
		c.mergeDeviceID(deviceID)
		return
	}

	wasRunning := c.began || c.started
	c.events.Flush()
	if !c.requests.ProcessQueue() {
		c.logger.Warning("SetDeviceID: pending requests of the previous device will be delivered later")
	}
	if c.began && !c.endSession() {
		c.began = false
	}

	c.swapDeviceID(deviceID)
	c.remoteConfig = make(map[string]interface{})

	if wasRunning {
		c.beginSession()
	}
}

func (c *Client) mergeDeviceID(deviceID string) {
	wasRunning := c.began || c.started
	if c.began && !c.endSession() {
		c.began = false
	}

	oldDeviceID := c.deviceID
	c.swapDeviceID(deviceID)
	c.requests.AddRequestToQueue(map[string]string{"old_device_id": oldDeviceID})
	if !c.requests.ProcessQueue() {
		c.logger.Warning("SetDeviceID: merge request will be delivered later")
	}

	if wasRunning {
		c.beginSession()
	}
}

// swapDeviceID must be called with the mutex held
func (c *Client) swapDeviceID(deviceID string) {
	c.logger.Info(fmt.Sprintf("Device id changed from %s to %s", c.deviceID, deviceID))
	c.deviceID = deviceID
	c.requests.SetDeviceID(deviceID)
}
