package wire

import (
	"testing"
	"time"

	"github.com/quicsrv/quic/internal/protocol"
	"github.com/quicsrv/quic/internal/qerr"

	"github.com/stretchr/testify/require"
)

func TestTransportParametersMarshalUnmarshal(t *testing.T) {
	token := protocol.StatelessResetToken{16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	retrySrcConnID := protocol.ConnectionID{0xaa, 0xbb}
	params := &TransportParameters{
		InitialMaxStreamDataBidiLocal:   0x1234,
		InitialMaxStreamDataBidiRemote:  0x2345,
		InitialMaxStreamDataUni:         0x3456,
		InitialMaxData:                  0x4567,
		MaxBidiStreamNum:                100,
		MaxUniStreamNum:                 3,
		MaxIdleTimeout:                  30 * time.Second,
		MaxUDPPayloadSize:               1452,
		AckDelayExponent:                7,
		MaxAckDelay:                     42 * time.Millisecond,
		DisableActiveMigration:          true,
		ActiveConnectionIDLimit:         4,
		OriginalDestinationConnectionID: protocol.ConnectionID{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4},
		InitialSourceConnectionID:       protocol.ConnectionID{0xca, 0xfe},
		RetrySourceConnectionID:         &retrySrcConnID,
		StatelessResetToken:             &token,
	}
	data := params.Marshal(protocol.PerspectiveServer)

	parsed := &TransportParameters{}
	require.NoError(t, parsed.Unmarshal(data, protocol.PerspectiveServer))
	require.Equal(t, params.InitialMaxStreamDataBidiLocal, parsed.InitialMaxStreamDataBidiLocal)
	require.Equal(t, params.InitialMaxStreamDataBidiRemote, parsed.InitialMaxStreamDataBidiRemote)
	require.Equal(t, params.InitialMaxStreamDataUni, parsed.InitialMaxStreamDataUni)
	require.Equal(t, params.InitialMaxData, parsed.InitialMaxData)
	require.Equal(t, params.MaxBidiStreamNum, parsed.MaxBidiStreamNum)
	require.Equal(t, params.MaxUniStreamNum, parsed.MaxUniStreamNum)
	require.Equal(t, params.MaxIdleTimeout, parsed.MaxIdleTimeout)
	require.Equal(t, params.MaxUDPPayloadSize, parsed.MaxUDPPayloadSize)
	require.Equal(t, params.AckDelayExponent, parsed.AckDelayExponent)
	require.Equal(t, params.MaxAckDelay, parsed.MaxAckDelay)
	require.True(t, parsed.DisableActiveMigration)
	require.Equal(t, params.ActiveConnectionIDLimit, parsed.ActiveConnectionIDLimit)
	require.Equal(t, params.OriginalDestinationConnectionID, parsed.OriginalDestinationConnectionID)
	require.Equal(t, params.InitialSourceConnectionID, parsed.InitialSourceConnectionID)
	require.Equal(t, retrySrcConnID, *parsed.RetrySourceConnectionID)
	require.Equal(t, token, *parsed.StatelessResetToken)
}

func TestTransportParametersClientMustNotSendServerOnly(t *testing.T) {
	token := protocol.StatelessResetToken{}
	for _, params := range []*TransportParameters{
		{OriginalDestinationConnectionID: protocol.ConnectionID{1, 2, 3, 4}, InitialSourceConnectionID: protocol.ConnectionID{5}},
		{StatelessResetToken: &token, InitialSourceConnectionID: protocol.ConnectionID{5}},
	} {
		data := params.Marshal(protocol.PerspectiveServer)
		parsed := &TransportParameters{}
		err := parsed.Unmarshal(data, protocol.PerspectiveClient)
		require.Error(t, err)
		var transportErr *qerr.TransportError
		require.ErrorAs(t, err, &transportErr)
		require.Equal(t, qerr.TransportParameterError, transportErr.ErrorCode)
	}
}

func TestTransportParametersMissingInitialSourceConnectionID(t *testing.T) {
	params := &TransportParameters{InitialMaxData: 0x42, ActiveConnectionIDLimit: 2}
	// marshal a parameter list without initial_source_connection_id by
	// stripping the trailing parameter the server always appends
	data := params.Marshal(protocol.PerspectiveServer)
	// remove the initial_source_connection_id parameter (last one appended: id, len 0)
	data = data[:len(data)-2-params.InitialSourceConnectionID.Len()]
	parsed := &TransportParameters{}
	require.Error(t, parsed.Unmarshal(data, protocol.PerspectiveServer))
}

func TestTransportParametersRejectDuplicates(t *testing.T) {
	p := &TransportParameters{InitialSourceConnectionID: protocol.ConnectionID{1}}
	var data []byte
	data = p.marshalVarintParam(data, initialMaxDataParameterID, 0x1337)
	data = p.marshalVarintParam(data, initialMaxDataParameterID, 0x1337)
	data = append(data, byte(initialSourceConnectionIDParameterID), 1, 0x42)
	parsed := &TransportParameters{}
	require.Error(t, parsed.Unmarshal(data, protocol.PerspectiveClient))
}

func TestTransportParametersRejectInvalidValues(t *testing.T) {
	p := &TransportParameters{}
	// max_udp_payload_size below 1200
	var data []byte
	data = p.marshalVarintParam(data, maxUDPPayloadSizeParameterID, 1199)
	require.Error(t, (&TransportParameters{}).Unmarshal(data, protocol.PerspectiveClient))
	// ack_delay_exponent above 20
	data = nil
	data = p.marshalVarintParam(data, ackDelayExponentParameterID, 21)
	require.Error(t, (&TransportParameters{}).Unmarshal(data, protocol.PerspectiveClient))
	// active_connection_id_limit below 2
	data = nil
	data = p.marshalVarintParam(data, activeConnectionIDLimitParameterID, 1)
	require.Error(t, (&TransportParameters{}).Unmarshal(data, protocol.PerspectiveClient))
}
