// Package srttsbpd implements time-stamp-based packet delivery
// (component C6): packets are released to the application only once
// their calculated release time has passed, smoothing out network
// jitter at the cost of added latency. The release-time index is a
// gitlab.com/yawning/avl.git tree ordered by (release_wall, seq), the
// same ordered-sweep idiom the teacher's decoy SURB-ETA queue uses
// (server/internal/decoy/decoy.go).
package srttsbpd

import (
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/opensrt/gosrt/srtwire"
)

// pending is one packet waiting for its release time.
type pending struct {
	seq        srtwire.SeqNo
	payload    []byte
	releaseAt  time.Time
	originTsUs uint32
	node       *avl.Node
}

func releaseCmp(a, b interface{}) int {
	pa, pb := a.(*pending), b.(*pending)
	switch {
	case pa.releaseAt.Before(pb.releaseAt):
		return -1
	case pa.releaseAt.After(pb.releaseAt):
		return 1
	case pa.seq < pb.seq:
		return -1
	case pa.seq > pb.seq:
		return 1
	default:
		return 0
	}
}

// Stats accumulates TSBPD delivery counters (§4.6/§8).
type Stats struct {
	Delivered        uint64
	DroppedLate      uint64
	DroppedEarly     uint64
	MovingAvgDelayUs float64
	MaxDelayUs       uint32
	DriftCorrections int
	DriftUs          int64
}

// Buffer holds packets pending time-based release.
type Buffer struct {
	LatencyUs uint32 // negotiated TSBPD delay (§4.2)

	baseWall     time.Time // wall clock at which the anchor packet was observed
	baseOriginUs uint32    // anchor packet's sender-side timestamp
	baseSet      bool      // whether baseWall/baseOriginUs have been anchored yet

	pending *avl.Tree
	Stats   Stats
}

// NewBuffer constructs a TSBPD buffer with the negotiated latency.
// base_wall/base_timestamp are left unanchored and are established by the
// first packet passed to Push — the wall time at which the first packet
// of the session is observed, per §4.6.
func NewBuffer(latencyUs uint32) *Buffer {
	return &Buffer{
		LatencyUs: latencyUs,
		pending:   avl.New(releaseCmp),
	}
}

// ResetBaseTimestamp drops every pending packet and arranges for
// base_wall/base_timestamp to be re-anchored to the origin timestamp of
// the next packet passed to Push, for use on timestamp wrap or a forced
// resync (§4.6).
func (b *Buffer) ResetBaseTimestamp() {
	iter := b.pending.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		b.pending.Remove(node)
	}
	b.baseSet = false
}

// releaseTime maps a packet's sender-side origin timestamp to the local
// wall-clock time at which it should be delivered: the sender's elapsed
// time since the base, replayed against the local base plus the
// negotiated latency.
func (b *Buffer) releaseTime(originUs uint32) time.Time {
	elapsed := int64(originUs) - int64(b.baseOriginUs)
	return b.baseWall.Add(time.Duration(elapsed) * time.Microsecond).Add(time.Duration(b.LatencyUs) * time.Microsecond)
}

// Push admits a reassembled payload for time-based release. The first
// packet ever pushed anchors base_wall/base_timestamp (§4.6). Two drop
// policies apply: a packet whose release time has already passed
// (release_wall < now_wall) arrived too late to ever be played out; a
// packet whose release time is implausibly far in the future
// (release_wall > now_wall + 10·playback_delay) is treated as a clock
// error, not a legitimately jittered packet.
func (b *Buffer) Push(seq srtwire.SeqNo, payload []byte, originUs uint32, now time.Time) (accepted bool) {
	if !b.baseSet {
		b.baseWall = now
		b.baseOriginUs = originUs
		b.baseSet = true
	}
	releaseAt := b.releaseTime(originUs)
	switch {
	case releaseAt.Before(now):
		b.Stats.DroppedLate++
		return false
	case releaseAt.After(now.Add(10 * time.Duration(b.LatencyUs) * time.Microsecond)):
		b.Stats.DroppedEarly++
		return false
	}
	p := &pending{seq: seq, payload: payload, releaseAt: releaseAt, originTsUs: originUs}
	p.node = b.pending.Insert(p)
	return true
}

// Ready drains and returns every packet whose release time has passed as
// of now, in release order, updating delivery statistics.
func (b *Buffer) Ready(now time.Time) [][]byte {
	var out [][]byte
	iter := b.pending.Iterator(avl.Forward)
	var due []*pending
	for node := iter.First(); node != nil; node = iter.Next() {
		p := node.Value.(*pending)
		if p.releaseAt.After(now) {
			break
		}
		due = append(due, p)
	}
	for _, p := range due {
		b.pending.Remove(p.node)
		delayUs := float64(now.Sub(p.releaseAt).Microseconds())
		b.Stats.Delivered++
		if b.Stats.Delivered == 1 {
			b.Stats.MovingAvgDelayUs = delayUs
		} else {
			b.Stats.MovingAvgDelayUs = 0.875*b.Stats.MovingAvgDelayUs + 0.125*delayUs
		}
		if delayUs > float64(b.Stats.MaxDelayUs) {
			b.Stats.MaxDelayUs = uint32(delayUs)
		}
		out = append(out, p.payload)
	}
	return out
}

// TimeUntilNextRelease reports the wall-clock duration until the earliest
// pending packet becomes ready, and false if nothing is pending.
func (b *Buffer) TimeUntilNextRelease(now time.Time) (time.Duration, bool) {
	iter := b.pending.Iterator(avl.Forward)
	node := iter.First()
	if node == nil {
		return 0, false
	}
	p := node.Value.(*pending)
	d := p.releaseAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// ApplyDriftCorrection shifts base_wall by driftUs, moving the release
// time of every packet pushed afterwards (§4.6). Any non-zero driftUs is
// applied; no threshold is checked here. Only the base shifts; packets
// already queued keep the release time computed at Push.
func (b *Buffer) ApplyDriftCorrection(driftUs int64) {
	if driftUs == 0 {
		return
	}
	b.baseWall = b.baseWall.Add(time.Duration(driftUs) * time.Microsecond)
	b.Stats.DriftCorrections++
	b.Stats.DriftUs += driftUs
}

// Len reports how many packets are currently pending release.
func (b *Buffer) Len() int { return b.pending.Len() }
