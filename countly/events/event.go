// Package events holds the typed analytics event and the threshold-flushed event queue
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Event is one recorded occurrence of something the host application wants to measure
type Event struct {
	Key          string
	Count        int
	Sum          *float64
	Duration     *float64
	Timestamp    int64
	Segmentation map[string]interface{}
}

type serializedEvent struct {
	Key          string                 `json:"key"`
	Count        int                    `json:"count"`
	Sum          *float64               `json:"sum,omitempty"`
	Duration     *float64               `json:"dur,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
	Segmentation map[string]interface{} `json:"segmentation,omitempty"`
}

// NewEvent returns an event with count 1 stamped with the current time
func NewEvent(key string) *Event {
	return &Event{
		Key:       key,
		Count:     1,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithCount sets the count of the event
func (e *Event) WithCount(count int) *Event {
	e.Count = count
	return e
}

// WithSum attaches a sum to the event
func (e *Event) WithSum(sum float64) *Event {
	e.Sum = &sum
	return e
}

// WithDuration attaches a duration in seconds to the event
func (e *Event) WithDuration(duration float64) *Event {
	e.Duration = &duration
	return e
}

// SetSegmentation adds one segmentation entry. Only string, int, int64, float64 and bool values are accepted.
func (e *Event) SetSegmentation(key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("segmentation key cannot be empty")
	}
	if !IsSegmentationValue(value) {
		return fmt.Errorf("segmentation value for %s has unsupported type %T", key, value)
	}
	if e.Segmentation == nil {
		e.Segmentation = make(map[string]interface{})
	}
	e.Segmentation[key] = value
	return nil
}

// IsSegmentationValue tells if value can be carried by an event segmentation
func IsSegmentationValue(value interface{}) bool {
	switch value.(type) {
	case string, int, int64, float64, bool:
		return true
	}
	return false
}

// Serialize renders the event as JSON. Segmentation keys are sorted so the output is stable.
func (e *Event) Serialize() (string, error) {
	for key, value := range e.Segmentation {
		if !IsSegmentationValue(value) {
			return "", fmt.Errorf("segmentation value for %s has unsupported type %T", key, value)
		}
	}

	raw, err := json.Marshal(serializedEvent{
		Key:          e.Key,
		Count:        e.Count,
		Sum:          e.Sum,
		Duration:     e.Duration,
		Timestamp:    e.Timestamp,
		Segmentation: e.Segmentation,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
