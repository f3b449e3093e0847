package utils

import (
	"time"

	"github.com/quicsrv/quic/internal/protocol"
)

const rttInitial = 333 * time.Millisecond

// RTTStats provides round-trip statistics
type RTTStats struct {
	hasMeasurement bool

	minRTT        time.Duration
	latestRTT     time.Duration
	smoothedRTT   time.Duration
	meanDeviation time.Duration

	maxAckDelay time.Duration
	granularity time.Duration
}

// MinRTT returns the minRTT for the entire connection.
// It may return a zero RTT if no valid updates have occurred.
func (r *RTTStats) MinRTT() time.Duration { return r.minRTT }

// LatestRTT returns the most recent rtt measurement.
// May return Zero if no valid updates have occurred.
func (r *RTTStats) LatestRTT() time.Duration { return r.latestRTT }

// SmoothedRTT returns the smoothed RTT for the connection.
// May return Zero if no valid updates have occurred.
func (r *RTTStats) SmoothedRTT() time.Duration { return r.smoothedRTT }

// SmoothedOrInitialRTT returns the EWMA smoothed RTT for the connection,
// or the initial RTT assumption if no measurement was made yet.
func (r *RTTStats) SmoothedOrInitialRTT() time.Duration {
	if !r.hasMeasurement {
		return rttInitial
	}
	return r.smoothedRTT
}

// MeanDeviation gets the mean deviation
func (r *RTTStats) MeanDeviation() time.Duration { return r.meanDeviation }

// MaxAckDelay gets the max_ack_delay advertised by the peer
func (r *RTTStats) MaxAckDelay() time.Duration { return r.maxAckDelay }

// TimerGranularity is the kGranularity value used for PTO and loss timer
// computations.
func (r *RTTStats) TimerGranularity() time.Duration {
	if r.granularity == 0 {
		return protocol.TimerGranularity
	}
	return r.granularity
}

// SetTimerGranularity overrides the default timer granularity.
func (r *RTTStats) SetTimerGranularity(d time.Duration) { r.granularity = d }

// PTO gets the probe timeout duration.
func (r *RTTStats) PTO(includeMaxAckDelay bool) time.Duration {
	pto := r.SmoothedOrInitialRTT() + max(4*r.MeanDeviation(), r.TimerGranularity())
	if includeMaxAckDelay {
		pto += r.MaxAckDelay()
	}
	return pto
}

// UpdateRTT updates the RTT based on a new sample.
// The integer weights 7/8 and 3/4 follow RFC 9002, avoiding float math.
func (r *RTTStats) UpdateRTT(sendDelta, ackDelay time.Duration) {
	if sendDelta <= 0 {
		return
	}

	// Update r.minRTT first. r.minRTT does not use an rttSample corrected for ackDelay.
	if r.minRTT == 0 || r.minRTT > sendDelta {
		r.minRTT = sendDelta
	}

	// Correct for ackDelay if information received from the peer results in a
	// an RTT sample at least as large as minRTT. Otherwise, only use the sendDelta.
	sample := sendDelta
	if sample-r.minRTT >= ackDelay {
		sample -= ackDelay
	}
	r.latestRTT = sample
	// First time call.
	if !r.hasMeasurement {
		r.hasMeasurement = true
		r.smoothedRTT = sample
		r.meanDeviation = sample / 2
	} else {
		diff := r.smoothedRTT - sample
		if diff < 0 {
			diff = -diff
		}
		r.meanDeviation = (3*r.meanDeviation + diff) / 4
		r.smoothedRTT = (7*r.smoothedRTT + sample) / 8
	}
}

// SetMaxAckDelay sets the max_ack_delay
func (r *RTTStats) SetMaxAckDelay(mad time.Duration) {
	r.maxAckDelay = mad
}

// SetInitialRTT sets the initial RTT.
// It is used during the 0-RTT handshake when restoring the RTT stats from the session state.
func (r *RTTStats) SetInitialRTT(t time.Duration) {
	// On the server side, by the time we get to process the session ticket,
	// we might already have obtained an RTT measurement.
	// This can happen if we received the ClientHello in multiple pieces, and one of those pieces was lost.
	if r.hasMeasurement {
		return
	}
	r.smoothedRTT = t
	r.latestRTT = t
}

// ResetForPathChange resets the RTT measurements after sending a Retry,
// keeping only what the new Initial round trip teaches us.
func (r *RTTStats) ResetForPathChange() {
	r.hasMeasurement = false
	r.minRTT = 0
	r.latestRTT = 0
	r.smoothedRTT = 0
	r.meanDeviation = 0
}
