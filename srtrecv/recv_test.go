package srtrecv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensrt/gosrt/srtwire"
)

func dataPkt(seq uint32, pos srtwire.PacketPosition, msgNo uint32, payload string) srtwire.DataPacket {
	return srtwire.DataPacket{
		Header: srtwire.DataHeader{
			Seq:      srtwire.SeqNo(seq),
			Position: pos,
			MsgNo:    srtwire.MsgNo(msgNo),
		},
		Payload: []byte(payload),
	}
}

func TestDispatchDeliversOnlyPacketImmediately(t *testing.T) {
	e := NewEngine(0, 64)
	out, err := e.Dispatch(dataPkt(0, srtwire.PPOnly, 1, "hello"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "hello", string(out[0]))
	assert.Equal(t, srtwire.SeqNo(1), e.ExpectedSeq)
}

func TestDispatchReordersAndReassembles(t *testing.T) {
	e := NewEngine(0, 64)
	out, err := e.Dispatch(dataPkt(1, srtwire.PPMiddle, 5, "B"))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.Dispatch(dataPkt(2, srtwire.PPLast, 5, "C"))
	require.NoError(t, err)
	assert.Empty(t, out) // seq 0 still missing, nothing drains yet

	out, err = e.Dispatch(dataPkt(0, srtwire.PPFirst, 5, "A"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ABC", string(out[0]))
	assert.Equal(t, srtwire.SeqNo(3), e.ExpectedSeq)
}

func TestDispatchDropsDuplicate(t *testing.T) {
	e := NewEngine(0, 64)
	_, err := e.Dispatch(dataPkt(0, srtwire.PPOnly, 1, "x"))
	require.NoError(t, err)
	_, err = e.Dispatch(dataPkt(0, srtwire.PPOnly, 1, "x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Stats.Duplicates)
}

func TestDispatchRejectsBeyondReceiveWindow(t *testing.T) {
	e := NewEngine(0, 4)
	_, err := e.Dispatch(dataPkt(10, srtwire.PPOnly, 1, "x"))
	assert.Error(t, err)
	assert.Equal(t, uint64(1), e.Stats.WindowOverflow)
}

func TestPendingLossAndNakEntries(t *testing.T) {
	e := NewEngine(0, 64)
	_, err := e.Dispatch(dataPkt(0, srtwire.PPOnly, 1, "a"))
	require.NoError(t, err)
	_, err = e.Dispatch(dataPkt(5, srtwire.PPOnly, 2, "b"))
	require.NoError(t, err)

	missing := e.PendingLoss()
	require.Len(t, missing, 4)
	assert.Equal(t, srtwire.SeqNo(1), missing[0])
	assert.Equal(t, srtwire.SeqNo(4), missing[3])

	packets := e.NakEntries()
	require.Len(t, packets, 1)
	require.Len(t, packets[0], 1)
	assert.Equal(t, srtwire.SeqNo(1), packets[0][0].Lo)
	assert.Equal(t, srtwire.SeqNo(4), packets[0][0].Hi)
}

func TestShouldAckAfterFrequencyAndBuildAckAdvances(t *testing.T) {
	e := NewEngine(0, 64)
	e.AckFrequency = 2
	for i := uint32(0); i < 2; i++ {
		_, err := e.Dispatch(dataPkt(i, srtwire.PPOnly, i+1, "x"))
		require.NoError(t, err)
	}
	assert.True(t, e.ShouldAck())

	cum, ok := e.BuildAck()
	require.True(t, ok)
	assert.Equal(t, srtwire.SeqNo(1), cum)
	assert.False(t, e.ShouldAck())

	_, ok = e.BuildAck()
	assert.False(t, ok)
}
