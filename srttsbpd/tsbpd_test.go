package srttsbpd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushThenReadyReleasesAfterLatency(t *testing.T) {
	now := time.Now()
	b := NewBuffer(120_000) // 120ms latency

	require.True(t, b.Push(1, []byte("a"), 1_000_000, now))
	assert.Empty(t, b.Ready(now))

	out := b.Ready(now.Add(130 * time.Millisecond))
	require.Len(t, out, 1)
	assert.Equal(t, "a", string(out[0]))
	assert.Equal(t, uint64(1), b.Stats.Delivered)
}

func TestReadyOrdersByReleaseTime(t *testing.T) {
	now := time.Now()
	b := NewBuffer(50_000)

	require.True(t, b.Push(2, []byte("second"), 20_000, now))
	require.True(t, b.Push(1, []byte("first"), 10_000, now))

	out := b.Ready(now.Add(time.Second))
	require.Len(t, out, 2)
	assert.Equal(t, "first", string(out[0]))
	assert.Equal(t, "second", string(out[1]))
}

func TestPushDropsPacketArrivingTooLate(t *testing.T) {
	now := time.Now()
	b := NewBuffer(50_000) // 50ms latency

	// Establish the session anchor with an on-time first packet.
	require.True(t, b.Push(1, []byte("anchor"), 0, now))

	// A packet whose release time (relative to the anchor) has already
	// passed by the time it's observed arrived too late to ever play out.
	accepted := b.Push(2, []byte("late"), 0, now.Add(200*time.Millisecond))
	assert.False(t, accepted)
	assert.Equal(t, uint64(1), b.Stats.DroppedLate)
}

func TestPushDropsPacketArrivingTooEarly(t *testing.T) {
	now := time.Now()
	b := NewBuffer(50_000) // 50ms latency

	require.True(t, b.Push(1, []byte("anchor"), 0, now))

	// A packet claiming a timestamp far ahead of the anchor implies a
	// release time well beyond 10x the playback delay: treated as a
	// clock error rather than legitimate jitter.
	accepted := b.Push(2, []byte("early"), 100_000_000, now)
	assert.False(t, accepted)
	assert.Equal(t, uint64(1), b.Stats.DroppedEarly)
}

func TestResetBaseTimestampClearsQueueAndReanchors(t *testing.T) {
	now := time.Now()
	b := NewBuffer(100_000) // 100ms latency

	require.True(t, b.Push(1, []byte("a"), 0, now))
	require.Equal(t, 1, b.Len())

	b.ResetBaseTimestamp()
	assert.Equal(t, 0, b.Len())

	// The next packet re-anchors the base, regardless of its origin
	// timestamp relative to the packet pushed before the reset.
	later := now.Add(5 * time.Second)
	require.True(t, b.Push(2, []byte("b"), 9_000_000, later))
	d, ok := b.TimeUntilNextRelease(later)
	require.True(t, ok)
	assert.InDelta(t, 100*time.Millisecond, d, float64(2*time.Millisecond))
}

func TestTimeUntilNextRelease(t *testing.T) {
	now := time.Now()
	b := NewBuffer(100_000)

	_, ok := b.TimeUntilNextRelease(now)
	assert.False(t, ok)

	require.True(t, b.Push(1, []byte("x"), 0, now))
	d, ok := b.TimeUntilNextRelease(now)
	require.True(t, ok)
	assert.InDelta(t, 100*time.Millisecond, d, float64(2*time.Millisecond))
}

func TestApplyDriftCorrectionShiftsFutureReleases(t *testing.T) {
	now := time.Now()
	b := NewBuffer(100_000)

	// Establish and drain the anchor packet so only the packet under test
	// remains pending when the assertion below runs.
	require.True(t, b.Push(0, []byte("anchor"), 0, now))
	b.Ready(now.Add(100 * time.Millisecond))

	b.ApplyDriftCorrection(10_000) // 10ms
	assert.Equal(t, 1, b.Stats.DriftCorrections)

	require.True(t, b.Push(1, []byte("x"), 0, now))
	d, ok := b.TimeUntilNextRelease(now)
	require.True(t, ok)
	assert.InDelta(t, 110*time.Millisecond, d, float64(2*time.Millisecond))
}
