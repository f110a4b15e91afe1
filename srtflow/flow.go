// Package srtflow implements the three independent admission caps of
// component C9: a send-window packet count, a token-bucket byte-rate
// limiter, and the peer's advertised receive window. Admission requires
// all three to pass.
package srtflow

import "time"

// TokenBucket is a byte-rate limiter: capacity bytes, refilled at
// fillRate bytes/sec.
type TokenBucket struct {
	Capacity   float64
	FillRate   float64 // bytes/sec
	level      float64
	lastUpdate time.Time
}

// NewTokenBucket starts a full bucket sized at capacity, refilling at
// fillRate bytes/sec.
func NewTokenBucket(capacity, fillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{Capacity: capacity, FillRate: fillRate, level: capacity, lastUpdate: now}
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	b.level += elapsed * b.FillRate
	if b.level > b.Capacity {
		b.level = b.Capacity
	}
	b.lastUpdate = now
}

// Allow reports whether size bytes may be admitted now, consuming them if
// so.
func (b *TokenBucket) Allow(now time.Time, size float64) bool {
	b.refill(now)
	if b.level >= size {
		b.level -= size
		return true
	}
	return false
}

// Retune updates capacity/fill rate (e.g. following a congestion-control
// rate change), keeping the current fill level, capped to the new
// capacity.
func (b *TokenBucket) Retune(capacity, fillRate float64) {
	b.Capacity = capacity
	b.FillRate = fillRate
	if b.level > capacity {
		b.level = capacity
	}
}

// Stats are the monotone (except on explicit reset) counters of §4.9.
type Stats struct {
	Sent             uint64
	Dropped          uint64
	Bytes            uint64
	RateLimitedCount uint64
	WindowFullCount  uint64
}

// Utilisation returns Sent/(Sent+Dropped), or 0 if nothing has been sent.
func (s Stats) Utilisation() float64 {
	total := s.Sent + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Sent) / float64(total)
}

// Controller owns the send-window cap, the token bucket, and the last
// peer-advertised receive window.
type Controller struct {
	SendWindow     uint32 // local cap, packets
	PeerRecvWindow uint32 // last advertised, packets
	InFlight       uint32

	Bucket *TokenBucket
	Stats  Stats
}

// NewController builds a Controller with the given initial send window
// and a token bucket sized at 1/8 second of fillRate bytes/sec (§4.4's
// pacing rule).
func NewController(sendWindow uint32, fillRateBps float64, now time.Time) *Controller {
	byteRate := fillRateBps / 8
	capacity := byteRate / 8 // 1/8 second of bytes at byteRate
	return &Controller{
		SendWindow:     sendWindow,
		PeerRecvWindow: sendWindow,
		Bucket:         NewTokenBucket(capacity, byteRate, now),
	}
}

// CanAdmit reports whether a packet of packetSize bytes may be sent now,
// without consuming any resource (a "dry run" used before the caller
// decides to also engage the congestion-control admission check).
func (c *Controller) CanAdmit(now time.Time, packetSize int) bool {
	if c.InFlight >= c.SendWindow {
		return false
	}
	if c.InFlight >= c.PeerRecvWindow {
		return false
	}
	return c.Bucket.level >= float64(packetSize) || c.peekRefill(now) >= float64(packetSize)
}

func (c *Controller) peekRefill(now time.Time) float64 {
	elapsed := now.Sub(c.Bucket.lastUpdate).Seconds()
	if elapsed <= 0 {
		return c.Bucket.level
	}
	lvl := c.Bucket.level + elapsed*c.Bucket.FillRate
	if lvl > c.Bucket.Capacity {
		lvl = c.Bucket.Capacity
	}
	return lvl
}

// Admit attempts to admit a packet of packetSize bytes. On success it
// increments InFlight and the byte/sent stats and returns true; on
// failure it increments the appropriate would-block counter and returns
// false without mutating InFlight.
func (c *Controller) Admit(now time.Time, packetSize int) bool {
	if c.InFlight >= c.SendWindow || c.InFlight >= c.PeerRecvWindow {
		c.Stats.WindowFullCount++
		return false
	}
	if !c.Bucket.Allow(now, float64(packetSize)) {
		c.Stats.RateLimitedCount++
		return false
	}
	c.InFlight++
	c.Stats.Sent++
	c.Stats.Bytes += uint64(packetSize)
	return true
}

// OnAcked decrements in-flight for count newly-acknowledged packets.
func (c *Controller) OnAcked(count uint32) {
	if count > c.InFlight {
		count = c.InFlight
	}
	c.InFlight -= count
}

// OnPeerReceiveWindow updates the last-advertised peer receive window.
func (c *Controller) OnPeerReceiveWindow(packets uint32) {
	c.PeerRecvWindow = packets
}

// OnLoss applies the standard rate-reduction rule: shrink the sending
// rate by the same multiplicative factor congestion control uses, and
// retune the token bucket to match.
func (c *Controller) OnLoss() {
	c.Bucket.FillRate *= 0.875
	c.Bucket.Capacity = c.Bucket.FillRate / 8
}

// OnRateUpdate retunes the token bucket to a new byte-rate (e.g. derived
// from srtcc's SendingRateBps), capacity held at 1/8 second of the rate.
func (c *Controller) OnRateUpdate(rateBps float64) {
	byteRate := rateBps / 8
	c.Bucket.Retune(byteRate/8, byteRate)
}
