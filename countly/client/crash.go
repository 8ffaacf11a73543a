package client

import (
	"strings"
	"time"

	"github.com/countly/countly-go-sdk/countly/service/dtos"
)

// AddBreadcrumb records a log line attached to the next crash report. Only the most
// recent BreadcrumbThreshold breadcrumbs are kept.
func (c *Client) AddBreadcrumb(message string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.breadcrumbs = append(c.breadcrumbs, message)
	if overflow := len(c.breadcrumbs) - c.breadcrumbThreshold; overflow > 0 {
		c.breadcrumbs = append([]string(nil), c.breadcrumbs[overflow:]...)
	}
}

// Breadcrumbs returns a copy of the kept breadcrumbs, oldest first
func (c *Client) Breadcrumbs() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.breadcrumbs...)
}

// SetBreadcrumbThreshold changes how many breadcrumbs are kept, dropping the oldest ones if needed
func (c *Client) SetBreadcrumbThreshold(threshold int) {
	if threshold < 1 {
		threshold = 1
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.breadcrumbThreshold = threshold
	if overflow := len(c.breadcrumbs) - threshold; overflow > 0 {
		c.breadcrumbs = append([]string(nil), c.breadcrumbs[overflow:]...)
	}
}

// RecordException queues a crash report carrying the device metrics, the breadcrumbs and
// the seconds the client has been running.
func (c *Client) RecordException(title string, stackTrace string, fatal bool, segmentation map[string]interface{}) error {
	if err := c.validator.ValidateException(title, segmentation); err != nil {
		c.logger.Error(err.Error())
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	report := dtos.NewCrashReport(c.metrics, title, stackTrace, fatal)
	report.Logs = strings.Join(c.breadcrumbs, "\n")
	report.Run = int64(c.now().Sub(c.createdAt) / time.Second)
	if len(segmentation) > 0 {
		report.Custom = segmentation
	}

	c.requests.AddRequestToQueue(map[string]string{"crash": report.JSON()})
	c.logger.Debug("RecordException: ", title)
	return nil
}
