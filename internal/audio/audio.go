package audio

import (
	"fmt"
	"strings"
)

// Encoding is the native sample encoding a backend delivers before normalization.
type Encoding int

const (
	// Unknown means the platform supplied raw bytes without bit depth metadata.
	Unknown Encoding = iota
	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
	// Int24 is reported by some devices (packed 3-byte PCM) but has no
	// normalization rule; sessions configured with it refuse to start.
	Int24
	// Unsupported tags data whose platform-reported format the converter
	// cannot read (big-endian, float16, compressed). It is never guessed at.
	Unsupported
)

var encodingNames = map[Encoding]string{
	Unknown:     "unknown",
	Int8:        "i8",
	UInt8:       "u8",
	Int16:       "i16",
	UInt16:      "u16",
	Int32:       "i32",
	UInt32:      "u32",
	Int64:       "i64",
	UInt64:      "u64",
	Float32:     "f32",
	Float64:     "f64",
	Int24:       "i24",
	Unsupported: "unsupported",
}

func (e Encoding) String() string {
	if name, ok := encodingNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Supported reports whether the converter has a normalization rule for e.
func (e Encoding) Supported() bool {
	return e >= Int8 && e <= Float64
}

// BytesPerSample returns the width of one sample, or 0 for Unknown.
func (e Encoding) BytesPerSample() int {
	switch e {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int24:
		return 3
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64:
		return 8
	default:
		return 0
	}
}

// ParseEncoding maps a config string ("f32", "i16", "float32", "int16", ...)
// to an Encoding. The empty string selects Float32.
func ParseEncoding(s string) (Encoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return Float32, nil
	case "int8":
		return Int8, nil
	case "uint8":
		return UInt8, nil
	case "int16":
		return Int16, nil
	case "uint16":
		return UInt16, nil
	case "int32":
		return Int32, nil
	case "uint32":
		return UInt32, nil
	case "int64":
		return Int64, nil
	case "uint64":
		return UInt64, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	case "int24":
		return Int24, nil
	}
	for e, name := range encodingNames {
		if e != Unknown && e != Unsupported && name == s {
			return e, nil
		}
	}
	return Unknown, fmt.Errorf("unknown sample format: %q", s)
}

// LayoutKind tells the shaper how channels are arranged in native buffers.
type LayoutKind int

const (
	Interleaved LayoutKind = iota
	PerChannelBuffers
)

func (k LayoutKind) String() string {
	if k == PerChannelBuffers {
		return "per-channel"
	}
	return "interleaved"
}

// Layout is fixed per backend and session.
type Layout struct {
	Kind     LayoutKind
	Channels int
}

// Format describes what a backend will deliver for the selected device.
type Format struct {
	Encoding   Encoding
	Layout     Layout
	SampleRate float64
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dch %s @ %.0fHz", f.Encoding, f.Layout.Channels, f.Layout.Kind, f.SampleRate)
}

// Device represents a capture source a backend can open
type Device struct {
	ID          string
	Name        string
	Default     bool
	MaxChannels int
}

// Buffer is one native buffer as handed over by the platform. Channels is
// the per-buffer channel count when the platform reports one, else 0.
type Buffer struct {
	Data     []byte
	Channels int
}

// Packet is one hardware delivery event. Encoding overrides the session
// encoding when the platform reports per-delivery metadata; Unknown means
// no metadata was supplied.
type Packet struct {
	Buffers  []Buffer
	Encoding Encoding
}

// Frame is the canonical output: one float32 sequence per channel.
type Frame [][]float32

// Channels returns the number of channel sequences in f.
func (f Frame) Channels() int { return len(f) }

// Len returns the per-channel sample count, or 0 for an empty frame.
func (f Frame) Len() int {
	if len(f) == 0 {
		return 0
	}
	return len(f[0])
}
