package audio

// G.711 mu-law companding for narrowband telephony audio
// (8 kHz, 8-bit, single channel).

const (
	muLawBias = 0x84
	muLawClip = 32635

	// MulawSilence is the companded byte for a zero-amplitude sample.
	// Used as the padding value for outbound frames.
	MulawSilence byte = 0xFF
)

// LinearToMulaw compands a 16-bit linear PCM sample into one mu-law byte.
// Sign bit, 3-bit exponent from the highest set bit above the bias-shifted
// magnitude, 4-bit mantissa, complemented for transmission.
func LinearToMulaw(sample int16) byte {
	v := int(sample)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exp := 7
	for mask := 0x4000; exp > 0 && v&mask == 0; exp-- {
		mask >>= 1
	}
	mantissa := byte(v>>uint(exp+3)) & 0x0F
	return ^(sign | byte(exp)<<4 | mantissa)
}

// EncodeMulaw compands a linear PCM buffer into mu-law bytes.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToMulaw(s)
	}
	return out
}

// PCMFromLE deserializes little-endian 16-bit PCM bytes into samples.
// A trailing odd byte is ignored.
func PCMFromLE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
