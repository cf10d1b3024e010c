package capture

import "github.com/petems/hear/internal/audio"

// Backend is the platform collaborator. Exactly one implementation is linked
// per build; see internal/backend.
type Backend interface {
	// Name identifies the native API, e.g. "portaudio".
	Name() string

	// Probe selects the default (or configured) device and reports the
	// encoding and layout it will deliver.
	Probe() (audio.Device, audio.Format, error)

	// Devices lists capture sources.
	Devices() ([]audio.Device, error)

	// Open constructs a native stream for dev. deliver is called from
	// backend-owned threads once per hardware delivery; onError is called at
	// most once if the stream dies asynchronously.
	Open(dev audio.Device, format audio.Format, deliver func(audio.Packet), onError func(error)) (Stream, error)

	// Close releases process-wide backend resources.
	Close() error
}

// Stream is one native capture stream.
type Stream interface {
	Start() error
	// Stop halts delivery. A deliver call already in progress may still
	// complete after Stop returns.
	Stop() error
	Close() error
}
