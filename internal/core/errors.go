package core

import (
	"errors"
	"fmt"

	"github.com/nstepura/bridge/internal/domain"
)

// ErrNotInitialized is returned by top-level commands issued before Start.
var ErrNotInitialized = errors.New("engine not started")

// ErrUnknownCall is returned by top-level commands referencing a call id
// that is not (or no longer) registered. Registry-level lookups treat the
// same situation as a no-op.
var ErrUnknownCall = errors.New("unknown call")

// MediaAcquisitionError wraps a failed microphone capture. Recovered
// locally: reconfiguration proceeds without replacing the affected track.
type MediaAcquisitionError struct {
	DeviceID string
	Err      error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed for device %q: %v", e.DeviceID, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// RenegotiationError wraps a rejected track replacement. Propagated to the
// caller of the top-level operation that triggered the reconfiguration.
type RenegotiationError struct {
	Call domain.CallID
	Err  error
}

func (e *RenegotiationError) Error() string {
	return fmt.Sprintf("track replacement rejected for call %s: %v", e.Call, e.Err)
}

func (e *RenegotiationError) Unwrap() error { return e.Err }
