package congestion

import (
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/utils"
	"github.com/quicsrv/quic/logging"
)

const (
	maxDatagramSize = protocol.ByteCount(protocol.InitialPacketSize)
	// initialCongestionWindow is the congestion window after a handshake, RFC 9002 style.
	initialCongestionWindow = protocol.InitialCongestionWindow * maxDatagramSize
	minCongestionWindow     = 2 * maxDatagramSize
)

// renoSender is a NewReno congestion controller: exponential slow start,
// linear congestion avoidance, and a recovery epoch entered on loss.
type renoSender struct {
	clock    Clock
	rttStats *utils.RTTStats

	// track the largest packet that has been sent to date
	largestSentPacketNumber protocol.PacketNumber
	// track the largest packet that has been acked to date
	largestAckedPacketNumber protocol.PacketNumber
	// the packet number after which we leave the current recovery epoch
	largestSentAtLastCutback protocol.PacketNumber

	congestionWindow    protocol.ByteCount
	slowStartThreshold  protocol.ByteCount
	maxCongestionWindow protocol.ByteCount

	// bytes acked since the window was last increased in congestion avoidance
	bytesAckedSinceIncrease protocol.ByteCount

	lastState logging.CongestionState
	tracer    logging.ConnectionTracer
	logger    utils.Logger
}

var _ SendAlgorithmWithDebugInfos = &renoSender{}

// NewRenoSender creates a NewReno congestion controller
func NewRenoSender(clock Clock, rttStats *utils.RTTStats, tracer logging.ConnectionTracer, logger utils.Logger) SendAlgorithmWithDebugInfos {
	s := &renoSender{
		clock:                    clock,
		rttStats:                 rttStats,
		largestSentPacketNumber:  protocol.InvalidPacketNumber,
		largestAckedPacketNumber: protocol.InvalidPacketNumber,
		largestSentAtLastCutback: protocol.InvalidPacketNumber,
		congestionWindow:         initialCongestionWindow,
		slowStartThreshold:       protocol.MaxByteCount,
		maxCongestionWindow:      protocol.DefaultMaxCongestionWindow,
		tracer:                   tracer,
		logger:                   logger,
	}
	if s.tracer != nil {
		s.lastState = logging.CongestionStateSlowStart
		s.tracer.UpdatedCongestionState(logging.CongestionStateSlowStart)
	}
	return s
}

func (s *renoSender) CanSend(bytesInFlight protocol.ByteCount) bool {
	return bytesInFlight < s.GetCongestionWindow()
}

func (s *renoSender) GetCongestionWindow() protocol.ByteCount {
	return s.congestionWindow
}

func (s *renoSender) InSlowStart() bool {
	return s.congestionWindow < s.slowStartThreshold
}

func (s *renoSender) InRecovery() bool {
	return s.largestSentAtLastCutback != protocol.InvalidPacketNumber &&
		(s.largestAckedPacketNumber == protocol.InvalidPacketNumber ||
			s.largestAckedPacketNumber <= s.largestSentAtLastCutback)
}

func (s *renoSender) MaybeExitSlowStart() {}

func (s *renoSender) OnPacketSent(_ time.Time, _ protocol.ByteCount, packetNumber protocol.PacketNumber, _ protocol.ByteCount, isRetransmittable bool) {
	if !isRetransmittable {
		return
	}
	s.largestSentPacketNumber = packetNumber
}

func (s *renoSender) OnPacketAcked(ackedPacketNumber protocol.PacketNumber, ackedBytes protocol.ByteCount, priorInFlight protocol.ByteCount, _ time.Time) {
	s.largestAckedPacketNumber = max(ackedPacketNumber, s.largestAckedPacketNumber)
	if s.InRecovery() {
		// the window is not increased while in the recovery epoch
		return
	}
	s.maybeIncreaseCongestionWindow(ackedBytes, priorInFlight)
}

func (s *renoSender) maybeIncreaseCongestionWindow(ackedBytes, priorInFlight protocol.ByteCount) {
	if s.congestionWindow >= s.maxCongestionWindow {
		return
	}
	if s.InSlowStart() {
		// congestion window grows by the number of acknowledged bytes
		s.congestionWindow += ackedBytes
		s.maybeTraceStateChange(logging.CongestionStateSlowStart)
		if s.logger.Debug() {
			s.logger.Debugf("Slow start: increasing the congestion window to %d", s.congestionWindow)
		}
		return
	}
	// congestion avoidance: one full packet per congestion window of acknowledged data
	s.bytesAckedSinceIncrease += ackedBytes
	if s.bytesAckedSinceIncrease >= s.congestionWindow {
		s.bytesAckedSinceIncrease -= s.congestionWindow
		s.congestionWindow += maxDatagramSize
		if s.logger.Debug() {
			s.logger.Debugf("Congestion avoidance: increasing the congestion window to %d", s.congestionWindow)
		}
	}
	s.maybeTraceStateChange(logging.CongestionStateCongestionAvoidance)
}

func (s *renoSender) OnPacketLost(packetNumber protocol.PacketNumber, _ protocol.ByteCount, _ protocol.ByteCount) {
	// A recovery epoch lasts until the packets sent after the epoch started are
	// acknowledged. Only one window reduction per epoch.
	if s.InRecovery() && packetNumber <= s.largestSentAtLastCutback {
		return
	}
	s.enterRecovery()
}

func (s *renoSender) enterRecovery() {
	s.largestSentAtLastCutback = s.largestSentPacketNumber
	s.congestionWindow = max(s.congestionWindow/2, minCongestionWindow)
	s.slowStartThreshold = s.congestionWindow
	s.bytesAckedSinceIncrease = 0
	s.maybeTraceStateChange(logging.CongestionStateRecovery)
	if s.logger.Debug() {
		s.logger.Debugf("Entering recovery. Congestion window: %d", s.congestionWindow)
	}
}

func (s *renoSender) OnRetransmissionTimeout(packetsRetransmitted bool) {
	if !packetsRetransmitted {
		return
	}
	s.enterRecovery()
}

func (s *renoSender) maybeTraceStateChange(new logging.CongestionState) {
	if s.tracer == nil || new == s.lastState {
		return
	}
	s.tracer.UpdatedCongestionState(new)
	s.lastState = new
}
