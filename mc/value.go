package mc

import (
	"encoding/binary"
	"math"
)

// Conversions between device words and Go values. Words travel
// little-endian on the wire; multi-word values are low-word-first,
// matching Q-series register layout.

// WordsToBytes flattens words into their little-endian byte stream.
func WordsToBytes(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(out[i*2:], w)
	}
	return out
}

// BytesToWords reads a little-endian byte stream as words. An odd
// trailing byte is padded with zero.
func BytesToWords(data []byte) []uint16 {
	out := make([]uint16, (len(data)+1)/2)
	for i := range out {
		lo := data[i*2]
		var hi byte
		if i*2+1 < len(data) {
			hi = data[i*2+1]
		}
		out[i] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}

// PackBits packs bit-device values two points per byte, first point in
// the high nibble: [true false true false] -> [0x10 0x10]. An odd
// count leaves the final low nibble zero.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+1)/2)
	for i, b := range bits {
		if !b {
			continue
		}
		if i%2 == 0 {
			out[i/2] |= 0x10
		} else {
			out[i/2] |= 0x01
		}
	}
	return out
}

// UnpackBits expands a nibble-packed payload back into count points.
func UnpackBits(data []byte, count int) ([]bool, error) {
	if len(data) < (count+1)/2 {
		return nil, FrameError{Reason: frameTooShort, Want: (count + 1) / 2, Got: len(data)}
	}
	out := make([]bool, count)
	for i := range out {
		b := data[i/2]
		if i%2 == 0 {
			out[i] = b&0x10 != 0
		} else {
			out[i] = b&0x01 != 0
		}
	}
	return out, nil
}

// DecodeUint8s returns the first count bytes of the word stream.
func DecodeUint8s(words []uint16, count int) ([]uint8, error) {
	if err := checkWordCount(words, (count+1)/2); err != nil {
		return nil, err
	}
	return WordsToBytes(words)[:count], nil
}

// DecodeUint16s returns count words as unsigned 16-bit values.
func DecodeUint16s(words []uint16, count int) ([]uint16, error) {
	if err := checkWordCount(words, count); err != nil {
		return nil, err
	}
	out := make([]uint16, count)
	copy(out, words)
	return out, nil
}

// DecodeInt16s returns count words as signed 16-bit values.
func DecodeInt16s(words []uint16, count int) ([]int16, error) {
	if err := checkWordCount(words, count); err != nil {
		return nil, err
	}
	out := make([]int16, count)
	for i := range out {
		out[i] = int16(words[i])
	}
	return out, nil
}

// DecodeUint32s combines word pairs low-word-first into count values.
func DecodeUint32s(words []uint16, count int) ([]uint32, error) {
	if err := checkWordCount(words, count*2); err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = uint32(words[i*2]) | uint32(words[i*2+1])<<16
	}
	return out, nil
}

// DecodeInt32s combines word pairs low-word-first into signed values.
func DecodeInt32s(words []uint16, count int) ([]int32, error) {
	u, err := DecodeUint32s(words, count)
	if err != nil {
		return nil, err
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(u[i])
	}
	return out, nil
}

// DecodeFloat32s interprets word pairs as IEEE 754 single floats.
func DecodeFloat32s(words []uint16, count int) ([]float32, error) {
	u, err := DecodeUint32s(words, count)
	if err != nil {
		return nil, err
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(u[i])
	}
	return out, nil
}

// DecodeUint64s combines groups of four words low-word-first.
func DecodeUint64s(words []uint16, count int) ([]uint64, error) {
	if err := checkWordCount(words, count*4); err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = uint64(words[i*4]) |
			uint64(words[i*4+1])<<16 |
			uint64(words[i*4+2])<<32 |
			uint64(words[i*4+3])<<48
	}
	return out, nil
}

// DecodeInt64s combines groups of four words into signed values.
func DecodeInt64s(words []uint16, count int) ([]int64, error) {
	u, err := DecodeUint64s(words, count)
	if err != nil {
		return nil, err
	}
	out := make([]int64, count)
	for i := range out {
		out[i] = int64(u[i])
	}
	return out, nil
}

// DecodeFloat64s interprets groups of four words as IEEE 754 doubles.
func DecodeFloat64s(words []uint16, count int) ([]float64, error) {
	u, err := DecodeUint64s(words, count)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(u[i])
	}
	return out, nil
}

// DecodeWordBools expands words into per-bit booleans, least
// significant bit first within each word.
func DecodeWordBools(words []uint16, count int) ([]bool, error) {
	if err := checkWordCount(words, (count+15)/16); err != nil {
		return nil, err
	}
	out := make([]bool, count)
	for i := range out {
		out[i] = words[i/16]&(1<<(i%16)) != 0
	}
	return out, nil
}

// RecoverString decodes register bytes as text, stopping at the first
// NUL or non-printable byte. PLC string registers are rarely fully
// initialized, so trailing garbage is expected.
func RecoverString(data []byte) string {
	end := len(data)
	for i, b := range data {
		if b == 0 || b < 0x20 || b > 0x7E {
			end = i
			break
		}
	}
	return string(data[:end])
}

// EncodeUint8s packs bytes into words, padding an odd tail with zero.
func EncodeUint8s(values []uint8) []uint16 {
	return BytesToWords(values)
}

// EncodeUint16s copies values into a word slice.
func EncodeUint16s(values []uint16) []uint16 {
	out := make([]uint16, len(values))
	copy(out, values)
	return out
}

// EncodeInt16s converts signed values into words.
func EncodeInt16s(values []int16) []uint16 {
	out := make([]uint16, len(values))
	for i, v := range values {
		out[i] = uint16(v)
	}
	return out
}

// EncodeUint32s splits each value into two words, low word first.
func EncodeUint32s(values []uint32) []uint16 {
	out := make([]uint16, len(values)*2)
	for i, v := range values {
		out[i*2] = uint16(v)
		out[i*2+1] = uint16(v >> 16)
	}
	return out
}

// EncodeInt32s splits signed values into word pairs.
func EncodeInt32s(values []int32) []uint16 {
	u := make([]uint32, len(values))
	for i, v := range values {
		u[i] = uint32(v)
	}
	return EncodeUint32s(u)
}

// EncodeFloat32s splits IEEE 754 single floats into word pairs.
func EncodeFloat32s(values []float32) []uint16 {
	u := make([]uint32, len(values))
	for i, v := range values {
		u[i] = math.Float32bits(v)
	}
	return EncodeUint32s(u)
}

// EncodeUint64s splits each value into four words, low word first.
func EncodeUint64s(values []uint64) []uint16 {
	out := make([]uint16, len(values)*4)
	for i, v := range values {
		out[i*4] = uint16(v)
		out[i*4+1] = uint16(v >> 16)
		out[i*4+2] = uint16(v >> 32)
		out[i*4+3] = uint16(v >> 48)
	}
	return out
}

// EncodeInt64s splits signed values into word quads.
func EncodeInt64s(values []int64) []uint16 {
	u := make([]uint64, len(values))
	for i, v := range values {
		u[i] = uint64(v)
	}
	return EncodeUint64s(u)
}

// EncodeFloat64s splits IEEE 754 doubles into word quads.
func EncodeFloat64s(values []float64) []uint16 {
	u := make([]uint64, len(values))
	for i, v := range values {
		u[i] = math.Float64bits(v)
	}
	return EncodeUint64s(u)
}

// EncodeString lays a string into words, two characters per word with
// a NUL terminator, padded to a whole word.
func EncodeString(s string) []uint16 {
	b := append([]byte(s), 0)
	return BytesToWords(b)
}

func checkWordCount(words []uint16, want int) error {
	if len(words) < want {
		return CountMismatchError{Want: want, Got: len(words)}
	}
	return nil
}
