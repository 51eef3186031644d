// file: internal/fingerprint/raw.go
// version: 1.0.0
// guid: 3f5b7d9e-1a2c-4e6f-8b0d-2c4e6f8a0b1d

package fingerprint

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Compressed fingerprint layout: one algorithm byte, a 24-bit big-endian
// subfingerprint count, then packed 3-bit bit-position deltas (0 ends a
// subfingerprint, 7 means "add the next 5-bit exception value").
const (
	headerSize      = 4
	normalBits      = 3
	exceptionBits   = 5
	maxNormalValue  = 1<<normalBits - 1
	subfingerprints = 32
)

// ErrMalformed is returned for fingerprint strings that do not decode
var ErrMalformed = errors.New("malformed fingerprint")

// DecodeRaw expands a compressed fpcalc fingerprint into its 32-bit subfingerprints
func DecodeRaw(fingerprint string) ([]uint32, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(fingerprint), "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrMalformed, len(data))
	}
	count := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if count == 0 {
		return []uint32{}, nil
	}

	normal := bitReader{data: data[headerSize:]}
	var values []int
	exceptions := 0
	for ended := 0; ended < count; {
		v, ok := normal.read(normalBits)
		if !ok {
			return nil, fmt.Errorf("%w: truncated after %d of %d subfingerprints", ErrMalformed, ended, count)
		}
		switch v {
		case 0:
			ended++
		case maxNormalValue:
			exceptions++
		}
		values = append(values, v)
	}

	if exceptions > 0 {
		packed := (len(values)*normalBits + 7) / 8
		extra := bitReader{data: data[headerSize+packed:]}
		for i, v := range values {
			if v != maxNormalValue {
				continue
			}
			e, ok := extra.read(exceptionBits)
			if !ok {
				return nil, fmt.Errorf("%w: truncated exception bits", ErrMalformed)
			}
			values[i] += e
		}
	}

	out := make([]uint32, 0, count)
	var value uint32
	lastBit := 0
	for _, v := range values {
		if v == 0 {
			if n := len(out); n > 0 {
				value ^= out[n-1]
			}
			out = append(out, value)
			value, lastBit = 0, 0
			continue
		}
		lastBit += v
		if lastBit > subfingerprints {
			return nil, fmt.Errorf("%w: bit position %d", ErrMalformed, lastBit)
		}
		value |= 1 << (lastBit - 1)
	}
	return out, nil
}

// BitErrorRate is the fraction of differing bits over the overlapping
// subfingerprints. Empty input yields 1.
func BitErrorRate(a, b []uint32) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 1
	}
	distance := 0
	for i := 0; i < n; i++ {
		distance += bits.OnesCount32(a[i] ^ b[i])
	}
	return float64(distance) / float64(subfingerprints*n)
}

// bitReader reads little-endian packed integers, least significant bit first
type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) read(width int) (int, bool) {
	if r.pos+width > len(r.data)*8 {
		return 0, false
	}
	v := 0
	for i := 0; i < width; i++ {
		bit := r.pos + i
		if r.data[bit/8]&(1<<(bit%8)) != 0 {
			v |= 1 << i
		}
	}
	r.pos += width
	return v, true
}
