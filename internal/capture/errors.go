package capture

import (
	"errors"
	"fmt"

	"github.com/petems/hear/internal/audio"
)

var (
	// ErrNoDevice is returned when the backend finds nothing to capture from.
	ErrNoDevice = errors.New("no capture device available")
	// ErrUnsupportedEncoding is the converter's sentinel, re-exported here.
	ErrUnsupportedEncoding = audio.ErrUnsupportedEncoding
	// ErrNothingToStop is returned by Stop on a session with no active stream.
	ErrNothingToStop = errors.New("nothing to stop")
	// ErrSessionFailed is returned once a session has entered the Failed state.
	ErrSessionFailed = errors.New("capture session failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture session closed")
	// ErrStreamStopped is reported when a native stream ends without Stop.
	ErrStreamStopped = errors.New("native stream stopped unexpectedly")
)

// ConfigurationError reports a device or format problem. It is fatal for
// the session it occurs in.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// LifecycleError reports a start/stop problem the caller can recover from.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
