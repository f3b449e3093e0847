package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamIDInitiator(t *testing.T) {
	require.Equal(t, PerspectiveClient, StreamID(4).InitiatedBy())
	require.Equal(t, PerspectiveServer, StreamID(5).InitiatedBy())
	require.Equal(t, PerspectiveClient, StreamID(6).InitiatedBy())
	require.Equal(t, PerspectiveServer, StreamID(7).InitiatedBy())
}

func TestStreamIDType(t *testing.T) {
	require.Equal(t, StreamTypeBidi, StreamID(4).Type())
	require.Equal(t, StreamTypeBidi, StreamID(5).Type())
	require.Equal(t, StreamTypeUni, StreamID(6).Type())
	require.Equal(t, StreamTypeUni, StreamID(7).Type())
}

func TestStreamNum(t *testing.T) {
	require.Equal(t, StreamNum(1), StreamID(0).StreamNum())
	require.Equal(t, StreamNum(1), StreamID(3).StreamNum())
	require.Equal(t, StreamNum(2), StreamID(4).StreamNum())
	require.Equal(t, StreamNum(3), StreamID(8).StreamNum())
	require.Equal(t, StreamNum(100), StreamID(397).StreamNum())
}

func TestStreamNumToStreamID(t *testing.T) {
	require.Equal(t, StreamID(0), StreamNum(1).StreamID(StreamTypeBidi, PerspectiveClient))
	require.Equal(t, StreamID(1), StreamNum(1).StreamID(StreamTypeBidi, PerspectiveServer))
	require.Equal(t, StreamID(2), StreamNum(1).StreamID(StreamTypeUni, PerspectiveClient))
	require.Equal(t, StreamID(3), StreamNum(1).StreamID(StreamTypeUni, PerspectiveServer))
	require.Equal(t, StreamID(8), StreamNum(3).StreamID(StreamTypeBidi, PerspectiveClient))
	require.Equal(t, InvalidStreamID, StreamNum(0).StreamID(StreamTypeBidi, PerspectiveClient))

	for _, stype := range []StreamType{StreamTypeUni, StreamTypeBidi} {
		for _, pers := range []Perspective{PerspectiveClient, PerspectiveServer} {
			for n := StreamNum(1); n < 100; n++ {
				id := n.StreamID(stype, pers)
				require.Equal(t, n, id.StreamNum())
				require.Equal(t, stype, id.Type())
				require.Equal(t, pers, id.InitiatedBy())
			}
		}
	}
}
