// Package srtsend implements the send engine (component C4): payload
// fragmentation into data packets, flow-gated admission,
// unacknowledged-packet bookkeeping ordered by next retransmit deadline,
// and ACK/NAK processing. The retransmit-due index is an
// gitlab.com/yawning/avl.git tree, the same ordered-by-deadline idiom the
// teacher uses in server/internal/decoy/decoy.go for its SURB ETA sweep
// (avl.New(cmp) / tree.Insert / tree.Remove(node) / tree.Iterator).
package srtsend

import (
	"time"

	"gitlab.com/yawning/avl.git"

	"github.com/opensrt/gosrt/errs"
	"github.com/opensrt/gosrt/srtcc"
	"github.com/opensrt/gosrt/srtflow"
	"github.com/opensrt/gosrt/srtwire"
)

// DefaultMaxRetransmits bounds how many times a single packet is resent
// before the connection gives up on it (§4.4 edge case, §6 max_retransmits
// default).
const DefaultMaxRetransmits = 5

// unacked is one outstanding (sent, not yet acknowledged) data packet.
type unacked struct {
	seq            srtwire.SeqNo
	packet         srtwire.DataPacket
	sentAt         time.Time
	nextRetransmit time.Time
	retries        int
	node           *avl.Node
}

// retransmitCmp orders unacked entries by (nextRetransmit, seq) so the
// earliest-due retransmit is always the tree's leftmost node.
func retransmitCmp(a, b interface{}) int {
	ua, ub := a.(*unacked), b.(*unacked)
	switch {
	case ua.nextRetransmit.Before(ub.nextRetransmit):
		return -1
	case ua.nextRetransmit.After(ub.nextRetransmit):
		return 1
	case ua.seq < ub.seq:
		return -1
	case ua.seq > ub.seq:
		return 1
	default:
		return 0
	}
}

// Stats accumulates send-side counters surfaced to diagnostics/metrics.
type Stats struct {
	Sent              uint64
	Retransmitted     uint64
	Acked             uint64
	Dropped           uint64
	RetransmitTimeout time.Duration
}

// Engine is the send side of one connection: fragmentation, admission,
// and retransmit bookkeeping for outbound data packets.
type Engine struct {
	MSS             int
	NextSeq         srtwire.SeqNo
	NextMsgNo       srtwire.MsgNo
	RetransmitMinUs time.Duration
	RetransmitMaxUs time.Duration
	MaxRetransmits  int

	// SessionOrigin is the wall-clock instant data-packet timestamps are
	// measured relative to (§3: "timestamp, microseconds from session
	// origin"), set once at handshake completion.
	SessionOrigin time.Time

	Flow *srtflow.Controller
	CC   *srtcc.State

	byID map[srtwire.SeqNo]*unacked
	due  *avl.Tree

	Stats Stats
}

// NewEngine constructs a send engine with the given MSS, retransmit
// timeout bounds (§6 retransmit_timeout_min/max_us), and session origin
// (the wall-clock instant outgoing packets' timestamps are relative to).
func NewEngine(mss int, retransmitMin, retransmitMax time.Duration, sessionOrigin time.Time, flow *srtflow.Controller, cc *srtcc.State) *Engine {
	return &Engine{
		MSS:             mss,
		RetransmitMinUs: retransmitMin,
		RetransmitMaxUs: retransmitMax,
		MaxRetransmits:  DefaultMaxRetransmits,
		SessionOrigin:   sessionOrigin,
		Flow:            flow,
		CC:              cc,
		byID:            make(map[srtwire.SeqNo]*unacked),
		due:             avl.New(retransmitCmp),
	}
}

// sinceOrigin computes the 32-bit wrapping microsecond timestamp for now,
// relative to e.SessionOrigin (§3).
func (e *Engine) sinceOrigin(now time.Time) uint32 {
	return uint32(now.Sub(e.SessionOrigin).Microseconds())
}

// Fragment splits payload into one or more data packets, each carrying at
// most MSS bytes of payload, tagged with the shared message number and
// §3 PacketPosition markers (Only/First/Middle/Last).
func (e *Engine) Fragment(payload []byte, ordered bool, kk srtwire.KeyEncryption, now time.Time) []srtwire.DataPacket {
	if len(payload) == 0 {
		return nil
	}
	msgNo := e.NextMsgNo
	e.NextMsgNo = e.NextMsgNo.Next()

	var packets []srtwire.DataPacket
	for off := 0; off < len(payload); off += e.MSS {
		end := off + e.MSS
		if end > len(payload) {
			end = len(payload)
		}
		var pos srtwire.PacketPosition
		switch {
		case off == 0 && end == len(payload):
			pos = srtwire.PPOnly
		case off == 0:
			pos = srtwire.PPFirst
		case end == len(payload):
			pos = srtwire.PPLast
		default:
			pos = srtwire.PPMiddle
		}
		seq := e.NextSeq
		e.NextSeq = e.NextSeq.Add(1)
		h := srtwire.DataHeader{
			Seq:       seq,
			Position:  pos,
			Ordered:   ordered,
			KK:        kk,
			Retrans:   false,
			MsgNo:     msgNo,
			Timestamp: e.sinceOrigin(now),
		}
		packets = append(packets, srtwire.DataPacket{Header: h, Payload: payload[off:end]})
	}
	return packets
}

// retransmitTimeout computes the next retransmit deadline from the
// current RTO estimate, clamped to [RetransmitMinUs, RetransmitMaxUs].
func (e *Engine) retransmitTimeout(rto time.Duration) time.Duration {
	if rto < e.RetransmitMinUs {
		return e.RetransmitMinUs
	}
	if rto > e.RetransmitMaxUs {
		return e.RetransmitMaxUs
	}
	return rto
}

// Admit offers a packet for sending, gated by the flow controller's
// window/pacing only: the congestion window (CC.Cwnd) is not consulted
// here, CC receives only the ACK and loss events. On success the
// packet is recorded as unacked, indexed by its first retransmit
// deadline, and true is returned.
func (e *Engine) Admit(pkt srtwire.DataPacket, now time.Time, rto time.Duration) bool {
	size := pkt.TotalSize()
	if !e.Flow.Admit(now, size) {
		return false
	}
	u := &unacked{
		seq:            pkt.Header.Seq,
		packet:         pkt,
		sentAt:         now,
		nextRetransmit: now.Add(e.retransmitTimeout(rto)),
	}
	u.node = e.due.Insert(u)
	e.byID[u.seq] = u
	e.Stats.Sent++
	return true
}

// OnAck removes every unacked entry with seq <= cumulativeSeq (wrap-aware),
// feeding the congestion controller and flow controller accordingly.
func (e *Engine) OnAck(cumulativeSeq srtwire.SeqNo) {
	var acked int
	for seq, u := range e.byID {
		if seq.LessEq(cumulativeSeq) {
			e.due.Remove(u.node)
			delete(e.byID, seq)
			acked++
		}
	}
	if acked == 0 {
		return
	}
	e.Stats.Acked += uint64(acked)
	e.Flow.OnAcked(uint32(acked))
	for i := 0; i < acked; i++ {
		e.CC.OnAck()
	}
}

// OnNak marks every sequence named by entries as due for immediate
// retransmission and returns the packets to resend, in sequence order.
func (e *Engine) OnNak(entries []srtwire.LossEntry, now time.Time) []srtwire.DataPacket {
	var resend []srtwire.DataPacket
	for _, seq := range srtwire.ExpandLossEntries(entries) {
		u, ok := e.byID[seq]
		if !ok {
			continue
		}
		resend = append(resend, e.markRetransmit(u, now))
	}
	if len(resend) > 0 {
		e.CC.OnLoss(now, uint64(len(resend)))
	}
	return resend
}

// DueRetransmits returns every unacked packet whose retransmit deadline
// has passed as of now, re-arming each for its next deadline. Packets
// that exceed MaxRetransmits are dropped and reported as err.
func (e *Engine) DueRetransmits(now time.Time, rto time.Duration) (due []srtwire.DataPacket, dropErr error) {
	iter := e.due.Iterator(avl.Forward)
	var expired []*unacked
	for node := iter.First(); node != nil; node = iter.Next() {
		u := node.Value.(*unacked)
		if u.nextRetransmit.After(now) {
			break
		}
		expired = append(expired, u)
	}
	for _, u := range expired {
		e.due.Remove(u.node)
		if u.retries >= e.MaxRetransmits {
			delete(e.byID, u.seq)
			e.Stats.Dropped++
			dropErr = errs.NewRetransmitExhausted(uint32(u.seq))
			continue
		}
		due = append(due, e.markRetransmit(u, now))
		u.nextRetransmit = now.Add(e.retransmitTimeout(rto))
		u.node = e.due.Insert(u)
	}
	return due, dropErr
}

func (e *Engine) markRetransmit(u *unacked, now time.Time) srtwire.DataPacket {
	u.retries++
	e.Stats.Retransmitted++
	pkt := u.packet
	pkt.Header.Retrans = true
	pkt.Header.Timestamp = e.sinceOrigin(now)
	return pkt
}

// InFlight reports how many packets are currently unacknowledged.
func (e *Engine) InFlight() int { return len(e.byID) }
