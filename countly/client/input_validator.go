package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/countly/countly-go-sdk/countly/events"
	"github.com/countly/countly-go-sdk/countly/service/dtos"
	"github.com/splitio/go-toolkit/v5/logging"
)

// inputValidation is responsible for checking every input of the public client methods
type inputValidation struct {
	logger logging.LoggerInterface
}

const maxKeyLength = 128

func checkNotEmpty(value string, operation string, name string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(operation + ": " + name + " must not be an empty String")
	}
	return nil
}

func checkSegmentation(segmentation map[string]interface{}, operation string) error {
	for key, value := range segmentation {
		if key == "" {
			return errors.New(operation + ": segmentation keys must not be empty")
		}
		if !events.IsSegmentationValue(value) {
			return fmt.Errorf("%s: segmentation value for %s must be a string, int, int64, float64 or bool", operation, key)
		}
	}
	return nil
}

// ValidateStartInputs implements the validation for Start call
func (i *inputValidation) ValidateStartInputs(appKey string, host string, port int) error {
	if err := checkNotEmpty(appKey, "Start", "appKey"); err != nil {
		return err
	}
	if err := checkNotEmpty(host, "Start", "host"); err != nil {
		return err
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("Start: port must be between 0 and 65535. Actual is: %d", port)
	}
	return nil
}

// ValidateEvent implements the validation for RecordEvent call
func (i *inputValidation) ValidateEvent(event *events.Event) error {
	if event == nil {
		return errors.New("RecordEvent: event cannot be nil")
	}
	if err := checkNotEmpty(event.Key, "RecordEvent", "key"); err != nil {
		return err
	}
	if len(event.Key) > maxKeyLength {
		i.logger.Warning(fmt.Sprintf("RecordEvent: key %s is longer than %d characters", event.Key, maxKeyLength))
	}
	if event.Count < 1 {
		return fmt.Errorf("RecordEvent: count must be >= 1. Actual is: %d", event.Count)
	}
	return checkSegmentation(event.Segmentation, "RecordEvent")
}

// ValidateDeviceID implements the validation for SetDeviceID call
func (i *inputValidation) ValidateDeviceID(deviceID string) error {
	return checkNotEmpty(deviceID, "SetDeviceID", "deviceID")
}

// ValidateView implements the validation for OpenView call
func (i *inputValidation) ValidateView(name string, segmentation map[string]interface{}) error {
	if err := checkNotEmpty(name, "OpenView", "name"); err != nil {
		return err
	}
	return checkSegmentation(segmentation, "OpenView")
}

// ValidateException implements the validation for RecordException call
func (i *inputValidation) ValidateException(title string, segmentation map[string]interface{}) error {
	if err := checkNotEmpty(title, "RecordException", "title"); err != nil {
		return err
	}
	return checkSegmentation(segmentation, "RecordException")
}

// ValidateRemoteConfigKeys implements the validation for the keyed remote config fetches
func (i *inputValidation) ValidateRemoteConfigKeys(keys []string) error {
	if len(keys) == 0 {
		return errors.New("FetchRemoteConfig: keys must not be empty")
	}
	for _, key := range keys {
		if err := checkNotEmpty(key, "FetchRemoteConfig", "key"); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUserDetails implements the validation for SetUserDetails call
func (i *inputValidation) ValidateUserDetails(details dtos.UserDetails) error {
	if details.BirthYear < 0 {
		return fmt.Errorf("SetUserDetails: birth year must be positive. Actual is: %d", details.BirthYear)
	}
	if details.IsEmpty() {
		return errors.New("SetUserDetails: no user detail set")
	}
	return nil
}
