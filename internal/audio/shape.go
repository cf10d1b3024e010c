package audio

// Conversion records which decode path produced a frame.
type Conversion int

const (
	// Explicit means the encoding came from backend or per-delivery metadata.
	Explicit Conversion = iota
	// Heuristic means the byte-length guess in GuessDecode was used.
	Heuristic
)

func (c Conversion) String() string {
	if c == Heuristic {
		return "byte-length-heuristic"
	}
	return "explicit"
}

// Deinterleave splits round-robin samples into n channel sequences. Sample i
// goes to channel i%n at position i/n. A trailing partial frame (len not a
// multiple of n) is dropped. With n <= 1 the input becomes channel 0 as is.
func Deinterleave(samples []float32, n int) Frame {
	if n <= 1 {
		return Frame{samples}
	}
	frames := len(samples) / n
	out := make(Frame, n)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * n
		for ch := 0; ch < n; ch++ {
			out[ch][i] = samples[base+ch]
		}
	}
	return out
}

// Shape converts one native delivery into a canonical frame.
//
// A single buffer is deinterleaved using its own channel count when the
// platform reports one. Without one, an interleaved layout supplies the count
// and a per-channel buffer is a single channel. Several buffers are taken to
// be one channel each, in delivery order. The packet's encoding wins over the
// session format's; when both are Unknown the byte-length heuristic is used.
func Shape(p Packet, f Format) (Frame, Conversion, error) {
	enc := p.Encoding
	if enc == Unknown {
		enc = f.Encoding
	}
	conv := Explicit
	if enc == Unknown {
		conv = Heuristic
	}

	decode := func(b []byte) ([]float32, error) {
		if conv == Heuristic {
			return GuessDecode(b), nil
		}
		return Decode(b, enc)
	}

	switch len(p.Buffers) {
	case 0:
		return Frame{}, conv, nil
	case 1:
		buf := p.Buffers[0]
		samples, err := decode(buf.Data)
		if err != nil {
			return nil, conv, err
		}
		channels := buf.Channels
		if channels == 0 && f.Layout.Kind == Interleaved {
			channels = f.Layout.Channels
		}
		return Deinterleave(samples, channels), conv, nil
	}

	frame := make(Frame, 0, len(p.Buffers))
	for _, buf := range p.Buffers {
		samples, err := decode(buf.Data)
		if err != nil {
			return nil, conv, err
		}
		frame = append(frame, samples)
	}
	return frame, conv, nil
}
