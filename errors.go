package adaglow

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stage names the part of the device lifecycle in which a crash happened.
type Stage string

const (
	StageInitialization Stage = "Initialization"
	StageUpdateDevice   Stage = "UpdateDevice"
	StageSendColors     Stage = "SendColorsToDevice"
)

var (
	// ErrProtocolMismatch is returned when the device answered a frame with
	// something other than the acknowledgment.
	ErrProtocolMismatch = errors.New("device did not acknowledge the frame")
	// ErrNotReady is returned when an update is requested from a device that
	// is not initialized.
	ErrNotReady = errors.New("device is not initialized")
)

// CrashError is the cause of a device crash. The device stays crashed until
// it is initialized again.
type CrashError struct {
	Stage Stage
	Err   error
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *CrashError) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors causer interface.
func (e *CrashError) Cause() error {
	return e.Err
}
