package client

import (
	"fmt"
	"time"

	"github.com/countly/countly-go-sdk/countly"
	"github.com/countly/countly-go-sdk/countly/events"
	"github.com/google/uuid"
)

// ViewEventKey is the reserved event key used for view tracking
const ViewEventKey = "[CLY]_view"

type openView struct {
	name      string
	startedAt time.Time
}

// OpenView records a view visit and returns the id needed to close it. An empty id is
// returned when the view cannot be recorded.
func (c *Client) OpenView(name string, segmentation map[string]interface{}) string {
	if err := c.validator.ValidateView(name, segmentation); err != nil {
		c.logger.Error(err.Error())
		return ""
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	id := uuid.NewString()
	event := &events.Event{Key: ViewEventKey, Count: 1, Timestamp: c.now().UnixMilli()}
	for key, value := range segmentation {
		event.SetSegmentation(key, value)
	}
	event.SetSegmentation("name", name)
	event.SetSegmentation("segment", countly.SDKName)
	event.SetSegmentation("visit", 1)
	if c.viewCount == 0 {
		event.SetSegmentation("start", 1)
	}

	serialized, err := event.Serialize()
	if err != nil {
		c.logger.Error("OpenView: ", err.Error())
		return ""
	}

	c.views[id] = openView{name: name, startedAt: c.now()}
	c.viewCount++
	c.events.Record(serialized)
	return id
}

// CloseView records the duration of a view opened with OpenView
func (c *Client) CloseView(id string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	view, ok := c.views[id]
	if !ok {
		c.logger.Warning(fmt.Sprintf("CloseView: no open view with id %s", id))
		return false
	}
	delete(c.views, id)

	event := (&events.Event{Key: ViewEventKey, Count: 1, Timestamp: c.now().UnixMilli()}).
		WithDuration(float64(c.now().Sub(view.startedAt) / time.Second))
	event.SetSegmentation("name", view.name)
	event.SetSegmentation("segment", countly.SDKName)

	serialized, err := event.Serialize()
	if err != nil {
		c.logger.Error("CloseView: ", err.Error())
		return false
	}
	c.events.Record(serialized)
	return true
}

// OpenViews returns the number of views not closed yet
func (c *Client) OpenViews() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.views)
}
