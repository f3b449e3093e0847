package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodePacketNumber(t *testing.T) {
	// example from RFC 9000, appendix A.3
	require.Equal(t, PacketNumber(0xa82f9b32), DecodePacketNumber(PacketNumberLen2, 0xa82f30ea, 0x9b32))

	for _, tc := range []struct {
		len       PacketNumberLen
		largest   PacketNumber
		truncated PacketNumber
		expected  PacketNumber
	}{
		{PacketNumberLen1, InvalidPacketNumber, 0, 0},
		{PacketNumberLen1, 0, 1, 1},
		{PacketNumberLen1, 0xff, 0x55, 0x155},
		{PacketNumberLen2, 0xffff, 0x5555, 0x15555},
		{PacketNumberLen4, 0xffffffff, 0x55555555, 0x155555555},
	} {
		require.Equal(t, tc.expected, DecodePacketNumber(tc.len, tc.largest, tc.truncated))
	}
}

func TestPacketNumberLengthForHeader(t *testing.T) {
	require.Equal(t, PacketNumberLen2, PacketNumberLengthForHeader(1, InvalidPacketNumber))
	require.Equal(t, PacketNumberLen2, PacketNumberLengthForHeader(1<<14, InvalidPacketNumber))
	require.Equal(t, PacketNumberLen2, PacketNumberLengthForHeader(1<<15+1, 1<<15))
	require.Equal(t, PacketNumberLen3, PacketNumberLengthForHeader(1<<16+1, 1))
	require.Equal(t, PacketNumberLen4, PacketNumberLengthForHeader(1<<24, 1))
}
