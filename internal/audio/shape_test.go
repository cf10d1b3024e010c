package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestDeinterleaveMono(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3, 0.4}
	got := Deinterleave(input, 1)

	if got.Channels() != 1 {
		t.Fatalf("expected 1 channel, got %d", got.Channels())
	}
	if got.Len() != len(input) {
		t.Fatalf("expected %d samples, got %d", len(input), got.Len())
	}
	for i := range input {
		if got[0][i] != input[i] {
			t.Fatalf("expected element %d to be %f, got %f", i, input[i], got[0][i])
		}
	}
}

func TestDeinterleaveStereo(t *testing.T) {
	input := []float32{
		0.0, 1.0,
		0.5, 0.5,
		1.0, 0.0,
		-0.5, 0.5,
	}

	want := Frame{
		{0.0, 0.5, 1.0, -0.5},
		{1.0, 0.5, 0.0, 0.5},
	}

	got := Deinterleave(input, 2)
	assertFrame(t, got, want)
}

func TestDeinterleaveDropsTrailingPartialFrame(t *testing.T) {
	const channels, frames = 3, 4
	input := make([]float32, channels*frames+1)
	for i := range input {
		input[i] = float32(i)
	}

	got := Deinterleave(input, channels)
	if got.Channels() != channels {
		t.Fatalf("expected %d channels, got %d", channels, got.Channels())
	}
	for ch := range got {
		if len(got[ch]) != frames {
			t.Errorf("channel %d: expected %d samples, got %d", ch, frames, len(got[ch]))
		}
	}
	if got[2][3] != 11 {
		t.Errorf("expected last kept sample 11, got %v", got[2][3])
	}
}

func TestShapeInterleavedInt16RoundTrip(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: le16(1000, -1000, 2000, -2000)}}}
	f := Format{Encoding: Int16, Layout: Layout{Kind: Interleaved, Channels: 2}}

	got, conv, err := Shape(p, f)
	if err != nil {
		t.Fatal(err)
	}
	if conv != Explicit {
		t.Errorf("expected explicit conversion, got %s", conv)
	}

	want := Frame{
		{1000.0 / 32768, 2000.0 / 32768},
		{-1000.0 / 32768, -2000.0 / 32768},
	}
	if got.Channels() != 2 || got.Len() != 2 {
		t.Fatalf("expected 2x2 frame, got %dx%d", got.Channels(), got.Len())
	}
	// Explicit int16 divides by 32767, within 1e-5 of k/32768.
	for ch := range want {
		for i := range want[ch] {
			if abs32(got[ch][i]-want[ch][i]) > 1e-5 {
				t.Errorf("ch%d[%d]: expected ~%v, got %v", ch, i, want[ch][i], got[ch][i])
			}
		}
	}
}

func TestShapePerChannelBuffers(t *testing.T) {
	left := f32bytes(0.1, 0.2, 0.3)
	right := f32bytes(-0.1, -0.2, -0.3)
	p := Packet{Buffers: []Buffer{{Data: left, Channels: 1}, {Data: right, Channels: 1}}}
	f := Format{Encoding: Float32, Layout: Layout{Kind: PerChannelBuffers, Channels: 2}}

	got, _, err := Shape(p, f)
	if err != nil {
		t.Fatal(err)
	}
	assertFrame(t, got, Frame{{0.1, 0.2, 0.3}, {-0.1, -0.2, -0.3}})
}

func TestShapeBufferCountDefinesChannels(t *testing.T) {
	const k = 5
	p := Packet{}
	for i := 0; i < k; i++ {
		p.Buffers = append(p.Buffers, Buffer{Data: make([]byte, 4*8)})
	}
	got, _, err := Shape(p, Format{Encoding: Float32, Layout: Layout{Kind: PerChannelBuffers, Channels: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Channels() != k {
		t.Fatalf("expected %d channels, got %d", k, got.Channels())
	}
	for ch := range got {
		if len(got[ch]) != 8 {
			t.Errorf("channel %d: expected 8 samples, got %d", ch, len(got[ch]))
		}
	}
}

func TestShapeSingleBufferUsesBufferChannelCount(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: f32bytes(1, 2, 3, 4, 5, 6), Channels: 3}}}
	f := Format{Encoding: Float32, Layout: Layout{Kind: PerChannelBuffers, Channels: 2}}

	got, _, err := Shape(p, f)
	if err != nil {
		t.Fatal(err)
	}
	assertFrame(t, got, Frame{{1, 4}, {2, 5}, {3, 6}})
}

func TestShapeHeuristicWhenNoMetadata(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: []byte{1, 2, 3}}}}
	got, conv, err := Shape(p, Format{Layout: Layout{Channels: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if conv != Heuristic {
		t.Errorf("expected heuristic conversion, got %s", conv)
	}
	if got.Len() != 0 {
		t.Errorf("expected empty channel, got %v", got)
	}
}

func TestShapePacketEncodingOverridesFormat(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: le16(math.MaxInt16)}}, Encoding: Int16}
	got, conv, err := Shape(p, Format{Layout: Layout{Channels: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if conv != Explicit {
		t.Errorf("expected explicit conversion, got %s", conv)
	}
	if got[0][0] != 1 {
		t.Errorf("expected 1.0, got %v", got[0][0])
	}
}

func TestShapeUnsupportedEncoding(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: []byte{0, 0, 0}}}}
	if _, _, err := Shape(p, Format{Encoding: Int24}); err == nil {
		t.Fatal("expected error for int24")
	}
}

func TestShapeUnreadablePacketEncodingIsNotGuessed(t *testing.T) {
	// Two packed 24-bit samples, +0.5 and -0.5.
	data := []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xc0}
	for _, enc := range []Encoding{Int24, Unsupported} {
		t.Run(enc.String(), func(t *testing.T) {
			p := Packet{Buffers: []Buffer{{Data: data, Channels: 1}}, Encoding: enc}
			frame, conv, err := Shape(p, Format{Layout: Layout{Kind: PerChannelBuffers, Channels: 1}})
			if !errors.Is(err, ErrUnsupportedEncoding) {
				t.Fatalf("expected ErrUnsupportedEncoding, got frame=%v err=%v", frame, err)
			}
			if conv == Heuristic {
				t.Error("expected no byte-length guess for a reported encoding")
			}
		})
	}
}

func TestShapePerChannelBufferWithoutCountIsOneChannel(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: f32bytes(1, 2, 3, 4)}}}
	f := Format{Encoding: Float32, Layout: Layout{Kind: PerChannelBuffers, Channels: 2}}

	got, _, err := Shape(p, f)
	if err != nil {
		t.Fatal(err)
	}
	assertFrame(t, got, Frame{{1, 2, 3, 4}})
}

func TestShapeInterleavedBufferWithoutCountUsesLayout(t *testing.T) {
	p := Packet{Buffers: []Buffer{{Data: f32bytes(1, 2, 3, 4)}}}
	f := Format{Encoding: Float32, Layout: Layout{Kind: Interleaved, Channels: 2}}

	got, _, err := Shape(p, f)
	if err != nil {
		t.Fatal(err)
	}
	assertFrame(t, got, Frame{{1, 3}, {2, 4}})
}

func f32bytes(vals ...float32) []byte {
	b := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func assertFrame(t *testing.T, got, want Frame) {
	t.Helper()
	if got.Channels() != want.Channels() {
		t.Fatalf("expected %d channels, got %d", want.Channels(), got.Channels())
	}
	for ch := range want {
		if len(got[ch]) != len(want[ch]) {
			t.Fatalf("channel %d: expected %d samples, got %d", ch, len(want[ch]), len(got[ch]))
		}
		for i := range want[ch] {
			if got[ch][i] != want[ch][i] {
				t.Errorf("channel %d sample %d: expected %v, got %v", ch, i, want[ch][i], got[ch][i])
			}
		}
	}
}
