// Package tasks contains the periodic background tasks of the SDK
package tasks

import (
	"github.com/splitio/go-toolkit/v5/asynctask"
	"github.com/splitio/go-toolkit/v5/logging"
)

// NewSessionUpdateTask creates a task calling updater every period seconds. The first call
// happens one period after Start.
func NewSessionUpdateTask(updater func() bool, period int, logger logging.LoggerInterface) *asynctask.AsyncTask {
	update := func(l logging.LoggerInterface) error {
		if !updater() {
			l.Warning("Session update was not delivered, will retry on next period")
		}
		return nil
	}

	return asynctask.NewAsyncTask("SessionUpdate", update, period, nil, nil, logger)
}
