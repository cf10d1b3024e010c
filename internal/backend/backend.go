// Package backend holds the native capture implementations. Exactly one is
// compiled in, chosen by build tags:
//
//	(default)          PortAudio input devices
//	-tags malgo        miniaudio input devices, or loopback of the default output
//	-tags screencapture ScreenCaptureKit display system audio (darwin only)
//
// Each file provides Name and New(cfg, log) (capture.Backend, error).
package backend

import (
	"fmt"

	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/capture"
)

// maxDefaultChannels caps the channel count when none is configured.
const maxDefaultChannels = 2

// resolveChannels picks the stream channel count: the requested count when
// set, otherwise the device maximum capped at maxDefaultChannels, and never
// less than one.
func resolveChannels(requested, deviceMax int) int {
	if requested > 0 {
		return requested
	}
	if deviceMax <= 0 {
		return 1
	}
	if deviceMax > maxDefaultChannels {
		return maxDefaultChannels
	}
	return deviceMax
}

// pickDevice returns the device named want, or the default one when want is
// empty. No device at all is ErrNoDevice.
func pickDevice(devices []audio.Device, want string) (audio.Device, error) {
	if len(devices) == 0 {
		return audio.Device{}, capture.ErrNoDevice
	}
	if want == "" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return audio.Device{}, fmt.Errorf("%w: no default device", capture.ErrNoDevice)
	}
	for _, d := range devices {
		if d.Name == want || d.ID == want {
			return d, nil
		}
	}
	return audio.Device{}, fmt.Errorf("%w: device not found: %s", capture.ErrNoDevice, want)
}

func unsupported(op string, enc audio.Encoding, supported string) error {
	return &capture.ConfigurationError{
		Op:  op,
		Err: fmt.Errorf("%w: %s (%s supports %s)", capture.ErrUnsupportedEncoding, enc, Name, supported),
	}
}
