package congestion

import (
	"testing"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/utils"

	"github.com/stretchr/testify/require"
)

func newTestSender() SendAlgorithmWithDebugInfos {
	return NewRenoSender(DefaultClock{}, &utils.RTTStats{}, nil, utils.DefaultLogger)
}

func TestRenoStartsInSlowStart(t *testing.T) {
	s := newTestSender()
	require.True(t, s.InSlowStart())
	require.False(t, s.InRecovery())
	require.Equal(t, initialCongestionWindow, s.GetCongestionWindow())
	require.True(t, s.CanSend(0))
	require.False(t, s.CanSend(initialCongestionWindow))
}

func TestRenoSlowStartGrowsByAckedBytes(t *testing.T) {
	s := newTestSender()
	now := time.Now()
	s.OnPacketSent(now, 0, 1, maxDatagramSize, true)
	cwnd := s.GetCongestionWindow()
	s.OnPacketAcked(1, maxDatagramSize, maxDatagramSize, now)
	require.Equal(t, cwnd+maxDatagramSize, s.GetCongestionWindow())
}

func TestRenoLossHalvesWindow(t *testing.T) {
	s := newTestSender()
	now := time.Now()
	for pn := protocol.PacketNumber(1); pn <= 10; pn++ {
		s.OnPacketSent(now, 0, pn, maxDatagramSize, true)
	}
	cwnd := s.GetCongestionWindow()
	s.OnPacketLost(5, maxDatagramSize, 10*maxDatagramSize)
	require.Equal(t, cwnd/2, s.GetCongestionWindow())
	require.True(t, s.InRecovery())

	// further losses in the same recovery epoch don't reduce the window again
	s.OnPacketLost(6, maxDatagramSize, 10*maxDatagramSize)
	require.Equal(t, cwnd/2, s.GetCongestionWindow())
}

func TestRenoRecoveryEndsOnNewAck(t *testing.T) {
	s := newTestSender()
	now := time.Now()
	for pn := protocol.PacketNumber(1); pn <= 10; pn++ {
		s.OnPacketSent(now, 0, pn, maxDatagramSize, true)
	}
	s.OnPacketLost(5, maxDatagramSize, 10*maxDatagramSize)
	require.True(t, s.InRecovery())
	// an ack for a packet sent after the cutback ends recovery
	s.OnPacketSent(now, 0, 11, maxDatagramSize, true)
	s.OnPacketAcked(11, maxDatagramSize, maxDatagramSize, now)
	require.False(t, s.InRecovery())
}

func TestRenoCongestionAvoidanceIsLinear(t *testing.T) {
	s := newTestSender().(*renoSender)
	now := time.Now()
	// force congestion avoidance
	s.slowStartThreshold = s.congestionWindow
	require.False(t, s.InSlowStart())

	cwnd := s.GetCongestionWindow()
	var acked protocol.ByteCount
	pn := protocol.PacketNumber(1)
	for acked < cwnd {
		s.OnPacketSent(now, 0, pn, maxDatagramSize, true)
		s.OnPacketAcked(pn, maxDatagramSize, cwnd, now)
		acked += maxDatagramSize
		pn++
	}
	// after a full window worth of acks, the window grew by one packet
	require.Equal(t, cwnd+maxDatagramSize, s.GetCongestionWindow())
}

func TestRenoMinimumWindow(t *testing.T) {
	s := newTestSender().(*renoSender)
	now := time.Now()
	for i := 0; i < 10; i++ {
		pn := protocol.PacketNumber(20 * i)
		s.OnPacketSent(now, 0, pn+1, maxDatagramSize, true)
		s.OnPacketLost(pn+1, maxDatagramSize, maxDatagramSize)
		// leave recovery by acking a packet sent after the cutback
		s.OnPacketSent(now, 0, pn+10, maxDatagramSize, true)
		s.OnPacketAcked(pn+10, maxDatagramSize, maxDatagramSize, now)
	}
	require.GreaterOrEqual(t, s.GetCongestionWindow(), minCongestionWindow)
}
