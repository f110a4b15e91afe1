// Package srtrecv implements the receive engine (component C5): a
// sparse reorder buffer drained sequentially, per-message reassembly
// keyed by PacketPosition, loss detection feeding NAK emission, and
// cumulative ACK pacing. Modeled on the teacher's `client2/arq.go`
// receive-side bookkeeping (an unacked/received map walked in sequence
// order) generalized from ARQ-only tracking to full reassembly.
package srtrecv

import (
	"github.com/opensrt/gosrt/errs"
	"github.com/opensrt/gosrt/srtwire"
)

// DefaultAckFrequency and DefaultMaxNakEntries are the §6-configurable
// defaults named in §4.5.
const (
	DefaultAckFrequency  = 10
	DefaultMaxNakEntries = 100
)

// Stats accumulates receive-side counters (§8).
type Stats struct {
	Received         uint64
	Duplicates       uint64
	Delivered        uint64
	WindowOverflow   uint64
	AcksSent         uint64
	NaksSent         uint64
}

// message accumulates the fragments of one in-progress reassembly.
type message struct {
	msgNo    srtwire.MsgNo
	fragments map[srtwire.SeqNo][]byte
	first    srtwire.SeqNo
	started  bool
}

// Engine is the receive side of one connection.
type Engine struct {
	AckFrequency  int
	MaxNakEntries int
	RecvWindow    uint32

	ExpectedSeq   srtwire.SeqNo
	lastAckSeq    srtwire.SeqNo
	maxReceivedSeq srtwire.SeqNo
	haveReceived  bool

	received map[srtwire.SeqNo]srtwire.DataPacket
	buffer   map[srtwire.SeqNo]srtwire.DataPacket

	inProgress map[srtwire.MsgNo]*message
	acceptedSinceAck int

	Stats Stats
}

// NewEngine constructs a receive engine starting at initialSeq (the
// peer's ISN) with the given receive window in packets.
func NewEngine(initialSeq srtwire.SeqNo, recvWindow uint32) *Engine {
	return &Engine{
		AckFrequency:  DefaultAckFrequency,
		MaxNakEntries: DefaultMaxNakEntries,
		RecvWindow:    recvWindow,
		ExpectedSeq:   initialSeq,
		lastAckSeq:    initialSeq.Add(^uint32(0)), // initialSeq-1, so the first ack can cover initialSeq
		received:      make(map[srtwire.SeqNo]srtwire.DataPacket),
		buffer:        make(map[srtwire.SeqNo]srtwire.DataPacket),
		inProgress:    make(map[srtwire.MsgNo]*message),
	}
}

// Dispatch accepts one arriving data packet. Duplicates (already
// acknowledged, already received, or already buffered) are dropped. Packets beyond the
// receive window's high edge are rejected. Otherwise the packet is
// recorded and the sequential drain advances, returning every message
// payload the drain completed, in delivery order.
func (e *Engine) Dispatch(pkt srtwire.DataPacket) ([][]byte, error) {
	seq := pkt.Header.Seq
	if seq.LessEq(e.lastAckSeq) {
		e.Stats.Duplicates++
		return nil, nil
	}
	_, buffered := e.buffer[seq]
	_, seen := e.received[seq]
	if buffered || seen {
		e.Stats.Duplicates++
		return nil, nil
	}
	highEdge := e.ExpectedSeq.Add(e.RecvWindow)
	if !seq.Less(highEdge) {
		e.Stats.WindowOverflow++
		return nil, errs.NewProtocolViolation("data seq beyond receive window")
	}

	e.buffer[seq] = pkt
	e.received[seq] = pkt
	if !e.haveReceived || e.maxReceivedSeq.Less(seq) {
		e.maxReceivedSeq = seq
		e.haveReceived = true
	}
	e.Stats.Received++
	e.acceptedSinceAck++

	return e.drain(), nil
}

// drain pops every contiguous packet starting at ExpectedSeq and feeds
// it to reassembly, returning completed message payloads in order.
func (e *Engine) drain() [][]byte {
	var delivered [][]byte
	for {
		pkt, ok := e.buffer[e.ExpectedSeq]
		if !ok {
			return delivered
		}
		delete(e.buffer, e.ExpectedSeq)
		if payload := e.feed(pkt); payload != nil {
			delivered = append(delivered, payload)
		}
		e.ExpectedSeq = e.ExpectedSeq.Add(1)
	}
}

// feed applies one drained packet to its message's reassembly.
func (e *Engine) feed(pkt srtwire.DataPacket) []byte {
	h := pkt.Header
	if h.Position == srtwire.PPOnly {
		e.Stats.Delivered++
		return pkt.Payload
	}

	m, ok := e.inProgress[h.MsgNo]
	if !ok {
		m = &message{msgNo: h.MsgNo, fragments: make(map[srtwire.SeqNo][]byte)}
		e.inProgress[h.MsgNo] = m
	}
	if h.Position == srtwire.PPFirst {
		m.first = h.Seq
		m.started = true
	}
	m.fragments[h.Seq] = pkt.Payload

	if h.Position != srtwire.PPLast {
		return nil
	}
	// PP=last: verify contiguity of every sequence from first..Seq.
	var out []byte
	for s := m.first; ; s = s.Add(1) {
		frag, ok := m.fragments[s]
		if !ok {
			// Gap: a retransmit for an earlier fragment of this message
			// is still outstanding. Defer until it arrives.
			return nil
		}
		out = append(out, frag...)
		if s == h.Seq {
			break
		}
	}
	delete(e.inProgress, h.MsgNo)
	e.Stats.Delivered++
	return out
}

// PendingLoss returns the sequence numbers in [last_ack_seq+1,
// min(max_received_seq, expected_seq+recv_window)) that are neither
// received nor buffered — candidates for NAK (§4.5 loss detection).
func (e *Engine) PendingLoss() []srtwire.SeqNo {
	if !e.haveReceived {
		return nil
	}
	hi := e.ExpectedSeq.Add(e.RecvWindow)
	if e.maxReceivedSeq.Less(hi) {
		hi = e.maxReceivedSeq
	}
	var missing []srtwire.SeqNo
	for s := e.lastAckSeq.Add(1); s.Less(hi); s = s.Add(1) {
		if _, ok := e.received[s]; ok {
			continue
		}
		if _, ok := e.buffer[s]; ok {
			continue
		}
		missing = append(missing, s)
	}
	return missing
}

// NakEntries coalesces PendingLoss into range/singleton loss entries,
// capped at MaxNakEntries; returns the entries plus the remainder if the
// pending-loss list needed to be split across more than one NAK packet.
func (e *Engine) NakEntries() [][]srtwire.LossEntry {
	missing := e.PendingLoss()
	if len(missing) == 0 {
		return nil
	}
	var entries []srtwire.LossEntry
	i := 0
	for i < len(missing) {
		lo := missing[i]
		hi := lo
		j := i + 1
		for j < len(missing) && missing[j] == hi.Add(1) {
			hi = missing[j]
			j++
		}
		entries = append(entries, srtwire.LossEntry{Lo: lo, Hi: hi})
		i = j
	}
	var packets [][]srtwire.LossEntry
	for len(entries) > 0 {
		n := e.MaxNakEntries
		if n > len(entries) {
			n = len(entries)
		}
		packets = append(packets, entries[:n])
		entries = entries[n:]
	}
	e.Stats.NaksSent += uint64(len(packets))
	return packets
}

// ShouldAck reports whether a cumulative ACK is due because AckFrequency
// accepted packets have arrived since the last one (the periodic-timer
// trigger is driven externally by srttimer's Ack entry).
func (e *Engine) ShouldAck() bool {
	return e.acceptedSinceAck >= e.AckFrequency
}

// BuildAck returns the cumulative ACK value (expected_seq-1) to emit, and
// false if there is nothing new to acknowledge since the last ACK.
func (e *Engine) BuildAck() (srtwire.SeqNo, bool) {
	cum := e.ExpectedSeq.Add(^uint32(0)) // expected_seq - 1
	if !e.lastAckSeq.Less(cum) {
		return 0, false
	}
	e.lastAckSeq = cum
	e.acceptedSinceAck = 0
	e.Stats.AcksSent++
	for s := range e.received {
		if s.LessEq(cum) {
			delete(e.received, s)
		}
	}
	return cum, true
}
