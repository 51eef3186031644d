// file: internal/fingerprint/raw_test.go
// version: 1.0.0
// guid: 5b7d9f1a-3c4e-4a6b-8d0f-4e6a8c0b2d3f

package fingerprint

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compress packs raw subfingerprints the way fpcalc does
func compress(raw []uint32) string {
	var normal, exceptional []int
	var prev uint32
	for i, v := range raw {
		x := v
		if i > 0 {
			x ^= prev
		}
		prev = v

		last := 0
		for bit := 1; x != 0; bit++ {
			if x&1 != 0 {
				delta := bit - last
				if delta >= maxNormalValue {
					normal = append(normal, maxNormalValue)
					exceptional = append(exceptional, delta-maxNormalValue)
				} else {
					normal = append(normal, delta)
				}
				last = bit
			}
			x >>= 1
		}
		normal = append(normal, 0)
	}

	out := []byte{1, byte(len(raw) >> 16), byte(len(raw) >> 8), byte(len(raw))}
	out = append(out, pack(normal, normalBits)...)
	out = append(out, pack(exceptional, exceptionBits)...)
	return base64.RawURLEncoding.EncodeToString(out)
}

func pack(values []int, width int) []byte {
	buf := make([]byte, (len(values)*width+7)/8)
	pos := 0
	for _, v := range values {
		for i := 0; i < width; i++ {
			if v&(1<<i) != 0 {
				buf[(pos+i)/8] |= 1 << ((pos + i) % 8)
			}
		}
		pos += width
	}
	return buf
}

func TestDecodeRaw_KnownVector(t *testing.T) {
	// algorithm 1, one subfingerprint with only bit 0 set
	raw, err := DecodeRaw("AQAAAQE")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, raw)

	assert.Equal(t, "AQAAAQE", compress([]uint32{1}))
}

func TestDecodeRaw_ExpandsCompressedForm(t *testing.T) {
	raw := []uint32{
		0x00000000,
		0x80000001, // bit 32 needs an exception value
		0xdeadbeef,
		0xdeadbeee,
		0x12345678,
		0xffffffff,
		0x00010000,
	}
	got, err := DecodeRaw(compress(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeRaw("  " + compress(raw) + "\n")
	require.NoError(t, err, "surrounding whitespace is ignored")
	assert.Equal(t, raw, got)
}

func TestDecodeRaw_Malformed(t *testing.T) {
	for name, input := range map[string]string{
		"not base64":     "!!!",
		"short header":   "AQ",
		"truncated body": "AQAAAgE",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRaw(input)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestBitErrorRate(t *testing.T) {
	a := []uint32{0xdeadbeef, 0x0000ffff}

	assert.Zero(t, BitErrorRate(a, a))
	assert.InDelta(t, 1.0/64, BitErrorRate(a, []uint32{0xdeadbeee, 0x0000ffff}), 1e-9)
	assert.InDelta(t, 0.5, BitErrorRate([]uint32{0xffffffff}, a[1:]), 1e-9)
	assert.InDelta(t, 0.5, BitErrorRate([]uint32{0xffffffff, 7, 7}, []uint32{0x0000ffff}), 1e-9, "only the overlap is compared")
	assert.Equal(t, 1.0, BitErrorRate(nil, a))
}
