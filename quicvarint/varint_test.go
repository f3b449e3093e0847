package quicvarint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintBoundaries(t *testing.T) {
	for _, tc := range []struct {
		value uint64
		len   int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1<<30 - 1, 4},
		{1 << 30, 8},
		{1<<62 - 1, 8},
	} {
		b := Append(nil, tc.value)
		require.Len(t, b, tc.len, "value %d", tc.value)
		require.Equal(t, tc.len, Len(tc.value))
		v, n, err := Parse(b)
		require.NoError(t, err)
		require.Equal(t, tc.len, n)
		require.Equal(t, tc.value, v)
		// and via the io.ByteReader path
		v2, err := Read(bytes.NewReader(b))
		require.NoError(t, err)
		require.Equal(t, tc.value, v2)
	}
}

func TestVarintRFCExamples(t *testing.T) {
	// examples from RFC 9000, appendix A.1
	for _, tc := range []struct {
		b     []byte
		value uint64
	}{
		{[]byte{0x25}, 37},
		{[]byte{0x40, 0x25}, 37},
		{[]byte{0x7b, 0xbd}, 15293},
		{[]byte{0x9d, 0x7f, 0x3e, 0x7d}, 494878333},
		{[]byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652},
	} {
		v, n, err := Parse(tc.b)
		require.NoError(t, err)
		require.Equal(t, len(tc.b), n)
		require.Equal(t, tc.value, v)
	}
}

func TestVarintParseErrors(t *testing.T) {
	_, _, err := Parse(nil)
	require.Error(t, err)
	// an 8-byte varint cut short
	_, _, err = Parse([]byte{0xc2, 0x19, 0x7c})
	require.Error(t, err)
}

func TestAppendWithLen(t *testing.T) {
	require.Equal(t, []byte{0x25}, AppendWithLen(nil, 37, 1))
	require.Equal(t, []byte{0x40, 0x25}, AppendWithLen(nil, 37, 2))
	require.Equal(t, []byte{0x80, 0, 0, 0x25}, AppendWithLen(nil, 37, 4))
	require.Equal(t, []byte{0xc0, 0, 0, 0, 0, 0, 0, 0x25}, AppendWithLen(nil, 37, 8))
	v, n, err := Parse(AppendWithLen(nil, 16000, 4))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, uint64(16000), v)
}
