package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRTTStatsFirstMeasurement(t *testing.T) {
	var rtt RTTStats
	rtt.UpdateRTT(300*time.Millisecond, 0)
	require.Equal(t, 300*time.Millisecond, rtt.LatestRTT())
	require.Equal(t, 300*time.Millisecond, rtt.SmoothedRTT())
	require.Equal(t, 150*time.Millisecond, rtt.MeanDeviation())
	require.Equal(t, 300*time.Millisecond, rtt.MinRTT())
}

func TestRTTStatsSmoothing(t *testing.T) {
	var rtt RTTStats
	rtt.UpdateRTT(300*time.Millisecond, 0)
	rtt.UpdateRTT(400*time.Millisecond, 0)
	// smoothed = (7*300 + 400) / 8
	require.Equal(t, 312500*time.Microsecond, rtt.SmoothedRTT())
	require.Equal(t, 400*time.Millisecond, rtt.LatestRTT())
	require.Equal(t, 300*time.Millisecond, rtt.MinRTT())
}

func TestRTTStatsAckDelay(t *testing.T) {
	var rtt RTTStats
	rtt.UpdateRTT(200*time.Millisecond, 0)
	// ack delay is subtracted if min + ackDelay <= latest
	rtt.UpdateRTT(300*time.Millisecond, 50*time.Millisecond)
	require.Equal(t, 250*time.Millisecond, rtt.LatestRTT())
	// but not if it would push the sample below the minimum
	rtt.UpdateRTT(210*time.Millisecond, 100*time.Millisecond)
	require.Equal(t, 210*time.Millisecond, rtt.LatestRTT())
}

func TestRTTStatsPTO(t *testing.T) {
	var rtt RTTStats
	rtt.SetMaxAckDelay(25 * time.Millisecond)
	require.Equal(t, rttInitial+max(4*time.Duration(0), time.Millisecond), rtt.PTO(false))
	rtt.UpdateRTT(100*time.Millisecond, 0)
	require.Equal(t, 100*time.Millisecond+4*50*time.Millisecond, rtt.PTO(false))
	require.Equal(t, 100*time.Millisecond+4*50*time.Millisecond+25*time.Millisecond, rtt.PTO(true))
}

func TestRTTStatsNonPositiveSamplesIgnored(t *testing.T) {
	var rtt RTTStats
	rtt.UpdateRTT(0, 0)
	rtt.UpdateRTT(-10*time.Millisecond, 0)
	require.Zero(t, rtt.SmoothedRTT())
	require.Zero(t, rtt.MinRTT())
}
