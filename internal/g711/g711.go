// Package g711 implements the mu-law companding used on the session's
// telephony audio path: 16-bit linear PCM in, 8-bit mu-law out, and back.
package g711

import "encoding/binary"

const (
	// encodeBias is the G.711 bias applied to the 14-bit magnitude
	// before locating the segment.
	encodeBias = 33

	// magnitudeCeil is the largest biased 14-bit magnitude; anything
	// above it clamps to the top segment.
	magnitudeCeil = 0x1FFF
)

// encodeTable maps the unsigned 16-bit representation of a PCM sample
// directly to its mu-law byte, so per-sample encoding is a single load.
var encodeTable [65536]byte

func init() {
	for i := 0; i < 65536; i++ {
		encodeTable[i] = encodeInt16(int16(uint16(i)))
	}
}

// EncodeSample converts one linear sample in [-1, 1] to a mu-law byte.
// Out-of-range samples are clamped to full scale first.
func EncodeSample(sample float32) byte {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	return encodeTable[uint16(int16(sample*32767))]
}

// DecodeSample converts one mu-law byte back to a linear sample in [-1, 1].
func DecodeSample(b byte) float32 {
	return float32(decodeInt16(b)) / 32768
}

// Encode converts a block of linear samples to mu-law bytes.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeSample(s)
	}
	return out
}

// Decode converts a block of mu-law bytes to linear samples.
func Decode(data []byte) []float32 {
	out := make([]float32, len(data))
	for i, b := range data {
		out[i] = DecodeSample(b)
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to linear samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// encodeInt16 is the reference bit-twiddling encoder the lookup table is
// built from: sign, bias the 14-bit magnitude, find the segment, pack
// sign|exponent|mantissa and complement.
func encodeInt16(s int16) byte {
	var sign byte
	v := int32(s)
	if v < 0 {
		sign = 0x80
		v = -v
	}

	v = (v >> 2) + encodeBias
	if v > magnitudeCeil {
		v = magnitudeCeil
	}

	exp := 7
	for mask := int32(0x1000); v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> uint(exp+1)) & 0x0F)

	return ^(sign | byte(exp)<<4 | mant)
}

// decodeInt16 is the exact inverse of encodeInt16 up to quantization.
func decodeInt16(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exp := uint((b >> 4) & 0x07)
	mant := int32(b & 0x0F)

	v := ((mant<<1 + encodeBias) << exp) - encodeBias
	v <<= 2
	if sign != 0 {
		v = -v
	}
	return int16(v)
}
