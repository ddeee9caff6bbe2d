package audio

// G.711 µ-law companding. Telephony carriers deliver 8 kHz µ-law; the
// stack decodes to linear PCM at the edge and re-encodes on the way out.
//
// Encoding follows the standard bias-and-segment algorithm; decoding uses
// a 256-entry table built from the same constants, so
// DecodeMuLaw(EncodeMuLaw(x)) is exact for every encodable level. The one
// aliased code is G.711 negative zero (0x7f): it decodes to 0, which
// re-encodes as positive zero (0xff).

const (
	mulawBias = 0x84
	mulawClip = 32635
)

var mulawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := (int32(mantissa)<<3 + mulawBias) << exponent
		sample -= mulawBias
		if sign != 0 {
			sample = -sample
		}
		mulawDecodeTable[i] = int16(sample)
	}
}

// EncodeMuLawSample compands one linear PCM sample to µ-law.
func EncodeMuLawSample(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := uint8(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLawSample expands one µ-law byte to a linear PCM sample.
func DecodeMuLawSample(b byte) int16 {
	return mulawDecodeTable[b]
}

// DecodeMuLaw converts µ-law bytes to PCM s16le.
func DecodeMuLaw(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := mulawDecodeTable[b]
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// EncodeMuLaw converts PCM s16le to µ-law bytes. A trailing odd byte,
// which cannot form a sample, is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	mulaw := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		mulaw[i] = EncodeMuLawSample(s)
	}
	return mulaw
}
