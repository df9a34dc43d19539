package transcriber

import "encoding/binary"

func floatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	}
	return int16(s * 32767)
}

// appendLinear16 appends samples as little-endian signed 16-bit PCM.
func appendLinear16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(floatToInt16(s)))
	}
	return dst
}

func appendInt16(dst []int16, samples []float32) []int16 {
	for _, s := range samples {
		dst = append(dst, floatToInt16(s))
	}
	return dst
}
