//go:build darwin && screencapture

package backend

/*
#cgo CFLAGS: -x objective-c -fobjc-arc -mmacosx-version-min=13.0
#cgo LDFLAGS: -framework Foundation -framework CoreMedia -framework CoreAudio -framework ScreenCaptureKit
#include <stdlib.h>
#include "screencapture_darwin.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime/cgo"
	"strconv"
	"sync/atomic"
	"unsafe"

	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/capture"
	"github.com/petems/hear/internal/config"
	"github.com/rs/zerolog"
)

// Name is the native API of this build.
const Name = "screencapturekit"

const (
	sckSampleRate = 48000
	sckChannels   = 2
	maxDisplays   = 16
)

// ScreenCaptureKit backend. Captures the system audio mixed for a display;
// the display ID stands in for the device.
type sckBackend struct {
	cfg config.AudioConfig
	log zerolog.Logger
}

// New creates a ScreenCaptureKit backend. Capture needs the Screen Recording
// permission.
func New(cfg config.AudioConfig, log zerolog.Logger) (capture.Backend, error) {
	if cfg.Loopback {
		return nil, &capture.ConfigurationError{
			Op:  "init " + Name,
			Err: errors.New("loopback is implied by system audio capture; unset it"),
		}
	}
	return &sckBackend{cfg: cfg, log: log}, nil
}

func (b *sckBackend) Name() string { return Name }

func (b *sckBackend) Devices() ([]audio.Device, error) {
	var displays [maxDisplays]C.HearDisplay
	var cerr *C.char

	n := int(C.hear_sck_displays(&displays[0], maxDisplays, &cerr))
	if n < 0 {
		return nil, fmt.Errorf("failed to list displays: %s", takeCString(cerr))
	}
	if n > maxDisplays {
		n = maxDisplays
	}

	result := make([]audio.Device, 0, n)
	for i := 0; i < n; i++ {
		d := displays[i]
		result = append(result, audio.Device{
			ID:          strconv.FormatUint(uint64(d.id), 10),
			Name:        fmt.Sprintf("Display %d (%dx%d)", uint32(d.id), int32(d.width), int32(d.height)),
			Default:     i == 0,
			MaxChannels: sckChannels,
		})
	}
	return result, nil
}

func (b *sckBackend) Probe() (audio.Device, audio.Format, error) {
	devices, err := b.Devices()
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}
	dev, err := pickDevice(devices, b.cfg.DeviceID)
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}

	rate := b.cfg.SampleRate
	if rate == 0 {
		rate = sckSampleRate
	}
	// Encoding arrives per sample buffer.
	return dev, audio.Format{
		Encoding: audio.Unknown,
		Layout: audio.Layout{
			Kind:     audio.PerChannelBuffers,
			Channels: resolveChannels(b.cfg.Channels, sckChannels),
		},
		SampleRate: rate,
	}, nil
}

func (b *sckBackend) Open(dev audio.Device, f audio.Format, deliver func(audio.Packet), onError func(error)) (capture.Stream, error) {
	id, err := strconv.ParseUint(dev.ID, 10, 32)
	if err != nil {
		return nil, &capture.ConfigurationError{Op: "open " + Name + " stream", Err: fmt.Errorf("bad display id %q: %w", dev.ID, err)}
	}

	st := &sckStream{deliver: deliver, onError: onError, name: dev.Name}
	st.handle = cgo.NewHandle(st)

	var cerr *C.char
	ref := C.hear_sck_open(C.uint32_t(id), C.int(f.SampleRate), C.int(f.Layout.Channels), C.uintptr_t(st.handle), &cerr)
	if ref == nil {
		st.handle.Delete()
		return nil, fmt.Errorf("failed to open capture stream: %s", takeCString(cerr))
	}
	st.ref = ref

	b.log.Debug().
		Str("display", dev.Name).
		Int("channels", f.Layout.Channels).
		Float64("sample_rate", f.SampleRate).
		Msg("ScreenCaptureKit stream opened")

	return st, nil
}

func (b *sckBackend) Close() error { return nil }

type sckStream struct {
	ref      unsafe.Pointer
	handle   cgo.Handle
	name     string
	deliver  func(audio.Packet)
	onError  func(error)
	stopping atomic.Bool
}

func (s *sckStream) Start() error {
	s.stopping.Store(false)
	var cerr *C.char
	if C.hear_sck_start(s.ref, &cerr) != 0 {
		return fmt.Errorf("start capture: %s", takeCString(cerr))
	}
	return nil
}

func (s *sckStream) Stop() error {
	s.stopping.Store(true)
	var cerr *C.char
	if C.hear_sck_stop(s.ref, &cerr) != 0 {
		return fmt.Errorf("stop capture: %s", takeCString(cerr))
	}
	return nil
}

func (s *sckStream) Close() error {
	s.stopping.Store(true)
	if s.ref != nil {
		C.hear_sck_release(s.ref)
		s.ref = nil
		s.handle.Delete()
	}
	return nil
}

// streamFor resolves the handle passed to a native callback. Zero means the
// stream was released.
func streamFor(handle uintptr) (*sckStream, bool) {
	if handle == 0 {
		return nil, false
	}
	st, ok := cgo.Handle(handle).Value().(*sckStream)
	return st, ok
}

//export hearSCKDeliver
func hearSCKDeliver(handle C.uintptr_t, list *C.AudioBufferList, asbd *C.AudioStreamBasicDescription) {
	st, ok := streamFor(uintptr(handle))
	if !ok {
		return
	}

	enc := audio.Unknown
	if asbd != nil {
		enc = encodingFromASBD(uint32(asbd.mFormatID), uint32(asbd.mFormatFlags), uint32(asbd.mBitsPerChannel))
	}

	raw := unsafe.Slice(&list.mBuffers[0], int(list.mNumberBuffers))
	buffers := make([]audio.Buffer, len(raw))
	for i, b := range raw {
		buffers[i] = audio.Buffer{
			Data:     unsafe.Slice((*byte)(b.mData), int(b.mDataByteSize)),
			Channels: int(b.mNumberChannels),
		}
	}
	st.deliver(audio.Packet{Buffers: buffers, Encoding: enc})
}

//export hearSCKError
func hearSCKError(handle C.uintptr_t, msg *C.char) {
	st, ok := streamFor(uintptr(handle))
	if !ok || st.stopping.Load() {
		return
	}
	st.onError(fmt.Errorf("%w: %s: %s", capture.ErrStreamStopped, st.name, C.GoString(msg)))
}

func takeCString(s *C.char) string {
	if s == nil {
		return "unknown error"
	}
	defer C.free(unsafe.Pointer(s))
	return C.GoString(s)
}
