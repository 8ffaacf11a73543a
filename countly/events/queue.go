package events

import (
	"strconv"
	"strings"
	"time"
)

const (
	// MinThreshold is the smallest accepted event queue threshold
	MinThreshold = 1

	// MaxThreshold is the largest accepted event queue threshold
	MaxThreshold = 10000
)

// RequestQueuer accepts the requests produced by event flushes
type RequestQueuer interface {
	AddRequestToQueue(params map[string]string)
}

// Queue buffers serialized events until the threshold is reached and then hands
// them over as a single request. It is not safe for concurrent use; callers
// serialize access.
type Queue struct {
	events    []string
	threshold int
	requests  RequestQueuer
	now       func() time.Time
}

// NewQueue creates an event queue flushing into requests
func NewQueue(threshold int, requests RequestQueuer) *Queue {
	return &Queue{
		events:    make([]string, 0),
		threshold: ClampThreshold(threshold),
		requests:  requests,
		now:       time.Now,
	}
}

// ClampThreshold bounds a threshold to [MinThreshold, MaxThreshold]
func ClampThreshold(threshold int) int {
	if threshold < MinThreshold {
		return MinThreshold
	}
	if threshold > MaxThreshold {
		return MaxThreshold
	}
	return threshold
}

// Record appends a serialized event. Reaching the threshold flushes the whole queue.
func (q *Queue) Record(serialized string) {
	q.events = append(q.events, serialized)
	if len(q.events) == q.threshold {
		q.Flush()
	}
}

// SetThreshold changes the threshold, flushing right away if the queue already reaches it
func (q *Queue) SetThreshold(threshold int) {
	q.threshold = ClampThreshold(threshold)
	if len(q.events) >= q.threshold {
		q.Flush()
	}
}

// Threshold returns the current threshold
func (q *Queue) Threshold() int {
	return q.threshold
}

// Size returns the number of queued events
func (q *Queue) Size() int {
	return len(q.events)
}

// Events returns a copy of the queued events
func (q *Queue) Events() []string {
	toReturn := make([]string, len(q.events))
	copy(toReturn, q.events)
	return toReturn
}

// Flush turns every queued event into one events request. Nothing is sent when the queue is empty.
func (q *Queue) Flush() {
	if len(q.events) == 0 {
		return
	}

	q.requests.AddRequestToQueue(map[string]string{
		"events":    "[" + strings.Join(q.events, ",") + "]",
		"timestamp": strconv.FormatInt(q.now().UnixMilli(), 10),
	})
	q.events = make([]string, 0)
}

// Clear drops queued events without sending them
func (q *Queue) Clear() {
	q.events = make([]string, 0)
}
