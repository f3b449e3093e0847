package wire

import (
	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/utils"
)

// LogFrame logs a frame, either sent or received
func LogFrame(logger utils.Logger, frame Frame, sent bool) {
	if !logger.Debug() {
		return
	}
	dir := "<-"
	if sent {
		dir = "->"
	}
	switch f := frame.(type) {
	case *CryptoFrame:
		logger.Debugf("\t%s &wire.CryptoFrame{Offset: %d, Data length: %d, Offset + Data length: %d}", dir, f.Offset, len(f.Data), f.Offset+protocol.ByteCount(len(f.Data)))
	case *StreamFrame:
		logger.Debugf("\t%s &wire.StreamFrame{StreamID: %d, Fin: %t, Offset: %d, Data length: %d, Offset + Data length: %d}", dir, f.StreamID, f.Fin, f.Offset, f.DataLen(), f.Offset+f.DataLen())
	case *AckFrame:
		hasECN := f.ECT0 > 0 || f.ECT1 > 0 || f.ECNCE > 0
		if len(f.AckRanges) > 1 {
			ackRanges := make([]AckRange, len(f.AckRanges))
			copy(ackRanges, f.AckRanges)
			logger.Debugf("\t%s &wire.AckFrame{LargestAcked: %d, LowestAcked: %d, AckRanges: %#v, DelayTime: %s, ECN: %t}", dir, f.LargestAcked(), f.LowestAcked(), ackRanges, f.DelayTime.String(), hasECN)
		} else {
			logger.Debugf("\t%s &wire.AckFrame{LargestAcked: %d, LowestAcked: %d, DelayTime: %s, ECN: %t}", dir, f.LargestAcked(), f.LowestAcked(), f.DelayTime.String(), hasECN)
		}
	default:
		logger.Debugf("\t%s %#v", dir, frame)
	}
}
