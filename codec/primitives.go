package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

type primitiveKind int

const (
	kindInt primitiveKind = iota
	kindFloat
)

type primitiveInfo struct {
	width  int
	kind   primitiveKind
	signed bool
}

var primitives = map[string]primitiveInfo{
	"byte":                   {1, kindInt, true},
	"unsigned byte":          {1, kindInt, false},
	"short integer":          {2, kindInt, true},
	"unsigned short integer": {2, kindInt, false},
	"integer":                {4, kindInt, true},
	"unsigned integer":       {4, kindInt, false},
	"long integer":           {8, kindInt, true},
	"unsigned long integer":  {8, kindInt, false},
	"float":                  {4, kindFloat, false},
	"long float":             {8, kindFloat, false},
}

func primitiveInfoFor(jausType string) (primitiveInfo, error) {
	info, ok := primitives[jausType]
	if !ok {
		return primitiveInfo{}, fmt.Errorf("codec: unknown jausType %q", jausType)
	}
	return info, nil
}

// typeSize returns the wire width in bytes of jausType.
func typeSize(jausType string) (int, error) {
	info, err := primitiveInfoFor(jausType)
	if err != nil {
		return 0, err
	}
	return info.width, nil
}

// saturate clips v to the representable range of a signed/unsigned integer
// of the given width, matching _safe_pack's clamp-don't-wrap behaviour
// (spec.md §6): 300 packed as unsigned byte becomes 0xff, -200 packed as
// byte becomes 0x80.
func saturate(v float64, width int, signed bool) int64 {
	v = math.Round(v)
	bits := uint(width * 8)
	if signed {
		max := int64(1)<<(bits-1) - 1
		min := -(int64(1) << (bits - 1))
		if v > float64(max) {
			return max
		}
		if v < float64(min) {
			return min
		}
		return int64(v)
	}
	var max uint64
	if bits == 64 {
		max = math.MaxUint64
	} else {
		max = uint64(1)<<bits - 1
	}
	if v > float64(max) {
		return int64(max)
	}
	if v < 0 {
		return 0
	}
	return int64(uint64(v))
}

// packNumeric encodes v as jausType, little-endian, saturating integer types
// to their representable range. Float types (float/long float) are never
// saturated.
func packNumeric(jausType string, v float64) ([]byte, error) {
	info, err := primitiveInfoFor(jausType)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.width)
	switch {
	case info.kind == kindFloat && info.width == 4:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case info.kind == kindFloat && info.width == 8:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	default:
		clipped := saturate(v, info.width, info.signed)
		putUint(buf, uint64(clipped), info.width)
	}
	return buf, nil
}

func putUint(buf []byte, v uint64, width int) {
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	}
}

func getUint(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	return 0
}

// unpackNumeric decodes jausType from the front of buf (which must be at
// least typeSize(jausType) bytes), returning its value as a float64 (exact
// for integers up to 2^53 in magnitude; larger 8-byte values are rounded to
// the nearest float64).
func unpackNumeric(jausType string, buf []byte) (float64, error) {
	info, err := primitiveInfoFor(jausType)
	if err != nil {
		return 0, err
	}
	if len(buf) < info.width {
		return 0, fmt.Errorf("codec: short buffer unpacking %q: need %d bytes, have %d", jausType, info.width, len(buf))
	}
	switch {
	case info.kind == kindFloat && info.width == 4:
		return float64(math.Float32frombits(uint32(getUint(buf, 4)))), nil
	case info.kind == kindFloat && info.width == 8:
		return math.Float64frombits(getUint(buf, 8)), nil
	case info.signed:
		raw := getUint(buf, info.width)
		bits := uint(info.width * 8)
		signBit := uint64(1) << (bits - 1)
		if raw&signBit != 0 {
			return float64(int64(raw) - int64(1<<bits)), nil
		}
		return float64(raw), nil
	default:
		return float64(getUint(buf, info.width)), nil
	}
}

// unpackRawUint decodes jausType as a raw unsigned bit pattern, used for
// bit-field masking where the sign of the underlying integer is irrelevant.
func unpackRawUint(jausType string, buf []byte) (uint64, error) {
	info, err := primitiveInfoFor(jausType)
	if err != nil {
		return 0, err
	}
	if len(buf) < info.width {
		return 0, fmt.Errorf("codec: short buffer unpacking %q: need %d bytes, have %d", jausType, info.width, len(buf))
	}
	return getUint(buf, info.width), nil
}

// clampSlice mimics Python's tolerant byte-slice semantics: payload[a:b]
// never raises, it just clamps to the available bytes. Go slicing panics on
// an out-of-range index, so callers that rely on this must go through here
// instead of slicing directly. See the variable-length string decode bug in
// decode.go for why this matters.
func clampSlice(buf []byte, start, length int) []byte {
	if start < 0 {
		start = 0
	}
	if start > len(buf) {
		return nil
	}
	end := start + length
	if end > len(buf) {
		end = len(buf)
	}
	if end < start {
		end = start
	}
	return buf[start:end]
}
