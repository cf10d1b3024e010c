//go:build screencapture && !darwin

package backend

import (
	"errors"
	"runtime"

	"github.com/petems/hear/internal/capture"
	"github.com/petems/hear/internal/config"
	"github.com/rs/zerolog"
)

// Name is the native API of this build.
const Name = "screencapturekit"

// New always fails: ScreenCaptureKit exists only on macOS.
func New(cfg config.AudioConfig, log zerolog.Logger) (capture.Backend, error) {
	return nil, &capture.ConfigurationError{
		Op:  "init " + Name,
		Err: errors.New("not available on " + runtime.GOOS),
	}
}
