package srtsend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensrt/gosrt/srtcc"
	"github.com/opensrt/gosrt/srtflow"
	"github.com/opensrt/gosrt/srtwire"
)

func newTestEngine(now time.Time) *Engine {
	flow := srtflow.NewController(8192, 10_000_000, now)
	cc := srtcc.NewState(1500)
	return NewEngine(1456, time.Millisecond, time.Second, now, flow, cc)
}

func TestFragmentSplitsAcrossMSSWithCorrectPositions(t *testing.T) {
	now := time.Now()
	e := newTestEngine(now)
	payload := make([]byte, e.MSS*2+10)
	packets := e.Fragment(payload, true, srtwire.KKNone, now)
	require.Len(t, packets, 3)
	assert.Equal(t, srtwire.PPFirst, packets[0].Header.Position)
	assert.Equal(t, srtwire.PPMiddle, packets[1].Header.Position)
	assert.Equal(t, srtwire.PPLast, packets[2].Header.Position)
	assert.Equal(t, packets[0].Header.MsgNo, packets[1].Header.MsgNo)
	assert.Equal(t, packets[0].Header.MsgNo, packets[2].Header.MsgNo)
}

func TestFragmentSinglePacketIsOnly(t *testing.T) {
	now := time.Now()
	e := newTestEngine(now)
	packets := e.Fragment([]byte("hello"), true, srtwire.KKNone, now)
	require.Len(t, packets, 1)
	assert.Equal(t, srtwire.PPOnly, packets[0].Header.Position)
}

func TestFragmentTimestampIsRelativeToSessionOrigin(t *testing.T) {
	origin := time.Now()
	flow := srtflow.NewController(8192, 10_000_000, origin)
	cc := srtcc.NewState(1500)
	e := NewEngine(1456, time.Millisecond, time.Second, origin, flow, cc)

	packets := e.Fragment([]byte("hello"), true, srtwire.KKNone, origin.Add(250*time.Millisecond))
	require.Len(t, packets, 1)
	assert.Equal(t, uint32(250_000), packets[0].Header.Timestamp)
}

func TestAdmitThenAckRemovesUnacked(t *testing.T) {
	now := time.Now()
	e := newTestEngine(now)
	pkt := e.Fragment([]byte("data"), true, srtwire.KKNone, now)[0]
	require.True(t, e.Admit(pkt, now, 50*time.Millisecond))
	assert.Equal(t, 1, e.InFlight())

	e.OnAck(pkt.Header.Seq)
	assert.Equal(t, 0, e.InFlight())
	assert.Equal(t, uint64(1), e.Stats.Acked)
}

func TestNakTriggersRetransmitAndCongestionLoss(t *testing.T) {
	now := time.Now()
	e := newTestEngine(now)
	pkt := e.Fragment([]byte("data"), true, srtwire.KKNone, now)[0]
	require.True(t, e.Admit(pkt, now, 50*time.Millisecond))
	initialCwnd := e.CC.Cwnd

	resend := e.OnNak([]srtwire.LossEntry{{Lo: pkt.Header.Seq, Hi: pkt.Header.Seq}}, now)
	require.Len(t, resend, 1)
	assert.True(t, resend[0].Header.Retrans)
	assert.Less(t, e.CC.Cwnd, initialCwnd)
}

func TestDueRetransmitsFiresAfterTimeoutAndReArms(t *testing.T) {
	now := time.Now()
	e := newTestEngine(now)
	pkt := e.Fragment([]byte("data"), true, srtwire.KKNone, now)[0]
	require.True(t, e.Admit(pkt, now, 10*time.Millisecond))

	due, err := e.DueRetransmits(now, 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, due)

	due, err = e.DueRetransmits(now.Add(11*time.Millisecond), 10*time.Millisecond)
	assert.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, e.InFlight())
}

func TestRetransmitExhaustedDropsPacket(t *testing.T) {
	now := time.Now()
	e := newTestEngine(now)
	e.MaxRetransmits = 1
	pkt := e.Fragment([]byte("data"), true, srtwire.KKNone, now)[0]
	require.True(t, e.Admit(pkt, now, time.Millisecond))

	_, err := e.DueRetransmits(now.Add(2*time.Millisecond), time.Millisecond)
	assert.NoError(t, err)

	_, err = e.DueRetransmits(now.Add(4*time.Millisecond), time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 0, e.InFlight())
}
