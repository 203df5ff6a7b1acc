package setup

import (
	"errors"
	"fmt"
)

var (
	ErrNoDirectory = errors.New("no kumo directory from cloud or cache")
	ErrNoDevices   = errors.New("no kumo devices could be set up")
	ErrSetupFailed = errors.New("kumo device setup failed")

	ErrSetupInProgress = errors.New("kumo setup already running")
)

// NotReadyError means a device has not answered yet and will be retried.
type NotReadyError struct {
	Serial      string
	Attempt     int
	MaxAttempts int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("kumo device %s not ready (attempt %d of %d)", e.Serial, e.Attempt, e.MaxAttempts)
}
