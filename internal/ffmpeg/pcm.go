package ffmpeg

import (
	"encoding/binary"
	"math"
)

// DecodeF32LE appends the samples in little-endian float32 bytes p to dst.
// Trailing bytes that do not form a full sample are ignored.
func DecodeF32LE(dst []float32, p []byte) []float32 {
	for i := 0; i+4 <= len(p); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(p[i:])))
	}
	return dst
}

// EncodeF32LE appends planar samples to dst as interleaved little-endian
// float32, the layout of ffmpeg's f32le format.
func EncodeF32LE(dst []byte, planar [][]float32) []byte {
	if len(planar) == 0 {
		return dst
	}
	var tmp [4]byte
	for i := range planar[0] {
		for c := range planar {
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(planar[c][i]))
			dst = append(dst, tmp[:]...)
		}
	}
	return dst
}
