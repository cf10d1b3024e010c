package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// ErrUnsupportedEncoding is returned for encodings without a normalization rule.
var ErrUnsupportedEncoding = errors.New("unsupported sample encoding")

// Sample is any native sample type the converter can normalize.
type Sample interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// BytesOf reinterprets a typed sample slice as its native-endian bytes
// without copying. Callback-based backends use it to hand typed buffers to
// Decode; all supported targets are little-endian.
func BytesOf[T Sample](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// Decode converts little-endian raw bytes in encoding enc to float32 samples.
// Integer encodings are divided by the type's maximum; unsigned ones are then
// remapped from [0,1] to [-1,1] (offset binary). Float32 passes through and
// Float64 is narrowed without range checks. Trailing bytes that do not make
// up a whole sample are ignored.
func Decode(data []byte, enc Encoding) ([]float32, error) {
	if !enc.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
	width := enc.BytesPerSample()
	n := len(data) / width
	out := make([]float32, n)
	le := binary.LittleEndian

	switch enc {
	case Int8:
		for i := 0; i < n; i++ {
			out[i] = signed(int64(int8(data[i])), math.MaxInt8)
		}
	case UInt8:
		for i := 0; i < n; i++ {
			out[i] = unsigned(uint64(data[i]), math.MaxUint8)
		}
	case Int16:
		for i := 0; i < n; i++ {
			out[i] = signed(int64(int16(le.Uint16(data[i*2:]))), math.MaxInt16)
		}
	case UInt16:
		for i := 0; i < n; i++ {
			out[i] = unsigned(uint64(le.Uint16(data[i*2:])), math.MaxUint16)
		}
	case Int32:
		for i := 0; i < n; i++ {
			out[i] = signed(int64(int32(le.Uint32(data[i*4:]))), math.MaxInt32)
		}
	case UInt32:
		for i := 0; i < n; i++ {
			out[i] = unsigned(uint64(le.Uint32(data[i*4:])), math.MaxUint32)
		}
	case Int64:
		for i := 0; i < n; i++ {
			out[i] = signed(int64(le.Uint64(data[i*8:])), math.MaxInt64)
		}
	case UInt64:
		for i := 0; i < n; i++ {
			out[i] = unsigned(le.Uint64(data[i*8:]), math.MaxUint64)
		}
	case Float32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(le.Uint32(data[i*4:]))
		}
	case Float64:
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(le.Uint64(data[i*8:])))
		}
	}
	return out, nil
}

// Normalize converts typed native samples the same way Decode does for
// their encoding.
func Normalize[T Sample](src []T) []float32 {
	out := make([]float32, len(src))
	switch s := any(src).(type) {
	case []int8:
		for i, v := range s {
			out[i] = signed(int64(v), math.MaxInt8)
		}
	case []uint8:
		for i, v := range s {
			out[i] = unsigned(uint64(v), math.MaxUint8)
		}
	case []int16:
		for i, v := range s {
			out[i] = signed(int64(v), math.MaxInt16)
		}
	case []uint16:
		for i, v := range s {
			out[i] = unsigned(uint64(v), math.MaxUint16)
		}
	case []int32:
		for i, v := range s {
			out[i] = signed(int64(v), math.MaxInt32)
		}
	case []uint32:
		for i, v := range s {
			out[i] = unsigned(uint64(v), math.MaxUint32)
		}
	case []int64:
		for i, v := range s {
			out[i] = signed(v, math.MaxInt64)
		}
	case []uint64:
		for i, v := range s {
			out[i] = unsigned(v, math.MaxUint64)
		}
	case []float32:
		copy(out, s)
	case []float64:
		for i, v := range s {
			out[i] = float32(v)
		}
	}
	return out
}

// GuessDecode is the fallback for platforms that hand over raw bytes without
// bit depth: a length divisible by 4 is read as little-endian float32, else
// divisible by 2 as little-endian int16 scaled by 1/32768, else nothing.
// An 8-byte int16 buffer is indistinguishable from a float32 one here, so
// callers must prefer explicit metadata whenever they have it.
func GuessDecode(data []byte) []float32 {
	le := binary.LittleEndian
	switch {
	case len(data) == 0:
		return nil
	case len(data)%4 == 0:
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(data[i*4:]))
		}
		return out
	case len(data)%2 == 0:
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = float32(int16(le.Uint16(data[i*2:]))) / 32768
		}
		return out
	default:
		return nil
	}
}

func signed(v int64, full float64) float32 {
	return float32(float64(v) / full)
}

func unsigned(v uint64, full float64) float32 {
	return float32(float64(v)/full*2 - 1)
}
