package backend

import "github.com/petems/hear/internal/audio"

// Core Audio linear PCM description, as carried by an
// AudioStreamBasicDescription.
const (
	formatLinearPCM uint32 = 0x6c70636d // 'lpcm'

	flagIsFloat         uint32 = 1 << 0
	flagIsBigEndian     uint32 = 1 << 1
	flagIsSignedInteger uint32 = 1 << 2
)

// encodingFromASBD maps a stream description to a sample encoding.
// Descriptions Decode cannot read map to Int24 or Unsupported, never to
// Unknown, so the session fails instead of guessing.
func encodingFromASBD(formatID, flags, bitsPerChannel uint32) audio.Encoding {
	if formatID != formatLinearPCM || flags&flagIsBigEndian != 0 {
		return audio.Unsupported
	}

	if flags&flagIsFloat != 0 {
		switch bitsPerChannel {
		case 32:
			return audio.Float32
		case 64:
			return audio.Float64
		}
		return audio.Unsupported
	}

	signed := flags&flagIsSignedInteger != 0
	switch bitsPerChannel {
	case 8:
		if signed {
			return audio.Int8
		}
		return audio.UInt8
	case 16:
		if signed {
			return audio.Int16
		}
		return audio.UInt16
	case 24:
		return audio.Int24
	case 32:
		if signed {
			return audio.Int32
		}
		return audio.UInt32
	case 64:
		if signed {
			return audio.Int64
		}
		return audio.UInt64
	}
	return audio.Unsupported
}
