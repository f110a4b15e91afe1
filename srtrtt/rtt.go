// Package srtrtt implements the RFC 6298 RTT/RTO estimator (component
// C7): smoothed RTT, jitter, network-condition labeling, and the
// suggested congestion window derived from bandwidth-delay product.
package srtrtt

import (
	"math"
	"time"
)

const (
	alpha = 0.125
	beta  = 0.25

	historyCap = 100
)

// Condition labels the network quality inferred from RTT statistics.
type Condition int

const (
	Unknown Condition = iota
	Excellent
	Good
	Fair
	Poor
	Terrible
)

func (c Condition) String() string {
	switch c {
	case Excellent:
		return "excellent"
	case Good:
		return "good"
	case Fair:
		return "fair"
	case Poor:
		return "poor"
	case Terrible:
		return "terrible"
	default:
		return "unknown"
	}
}

// Estimator holds the RFC 6298 recursion state for one connection.
type Estimator struct {
	MinRTO time.Duration
	MaxRTO time.Duration

	hasSample bool
	srtt      time.Duration
	rttvar    time.Duration
	min       time.Duration
	max       time.Duration

	history []time.Duration // bounded to historyCap most recent samples
}

// DefaultMinRTO and DefaultMaxRTO match §4.7's stated defaults.
const (
	DefaultMinRTO = 1 * time.Millisecond
	DefaultMaxRTO = 60 * time.Second
)

// NewEstimator returns an Estimator configured with the given RTO bounds;
// zero values fall back to the §4.7 defaults.
func NewEstimator(minRTO, maxRTO time.Duration) *Estimator {
	if minRTO <= 0 {
		minRTO = DefaultMinRTO
	}
	if maxRTO <= 0 {
		maxRTO = DefaultMaxRTO
	}
	return &Estimator{MinRTO: minRTO, MaxRTO: maxRTO}
}

// Sample folds a new RTT observation R into the estimator, per RFC 6298.
func (e *Estimator) Sample(r time.Duration) {
	if !e.hasSample {
		e.srtt = r
		e.rttvar = r / 2
		e.min = r
		e.max = r
		e.hasSample = true
	} else {
		diff := e.srtt - r
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = time.Duration((1-beta)*float64(e.rttvar) + beta*float64(diff))
		e.srtt = time.Duration((1-alpha)*float64(e.srtt) + alpha*float64(r))
		if r < e.min {
			e.min = r
		}
		if r > e.max {
			e.max = r
		}
	}
	e.history = append(e.history, r)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
}

// HasSample reports whether at least one RTT sample has been folded in.
func (e *Estimator) HasSample() bool { return e.hasSample }

// SRTT returns the current smoothed RTT.
func (e *Estimator) SRTT() time.Duration { return e.srtt }

// RTTVar returns the current RTT variation.
func (e *Estimator) RTTVar() time.Duration { return e.rttvar }

// Min and Max return the smallest and largest RTT sampled so far (not
// limited to the bounded history).
func (e *Estimator) Min() time.Duration { return e.min }
func (e *Estimator) Max() time.Duration { return e.max }

// RTO computes clamp(SRTT + max(1ms, 4*RTTVAR), [MinRTO, MaxRTO]).
func (e *Estimator) RTO() time.Duration {
	if !e.hasSample {
		return e.MaxRTO
	}
	k := 4 * e.rttvar
	if k < time.Millisecond {
		k = time.Millisecond
	}
	rto := e.srtt + k
	if rto < e.MinRTO {
		rto = e.MinRTO
	}
	if rto > e.MaxRTO {
		rto = e.MaxRTO
	}
	return rto
}

// Jitter is the mean absolute difference of successive RTTs over the
// bounded history.
func (e *Estimator) Jitter() time.Duration {
	if len(e.history) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(e.history); i++ {
		d := float64(e.history[i] - e.history[i-1])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return time.Duration(sum / float64(len(e.history)-1))
}

// NetworkCondition labels the connection using the thresholds of §4.7.
func (e *Estimator) NetworkCondition() Condition {
	if !e.hasSample {
		return Unknown
	}
	srttMs := float64(e.srtt) / float64(time.Millisecond)
	jitterMs := float64(e.Jitter()) / float64(time.Millisecond)
	var varRatio float64
	if e.srtt > 0 {
		varRatio = float64(e.rttvar) / float64(e.srtt)
	}
	switch {
	case srttMs < 20 && jitterMs < 2 && varRatio < 0.1:
		return Excellent
	case srttMs < 50 && jitterMs < 5 && varRatio < 0.2:
		return Good
	case srttMs < 100 && jitterMs < 10 && varRatio < 0.3:
		return Fair
	case srttMs < 200 && jitterMs < 20 && varRatio < 0.5:
		return Poor
	default:
		return Terrible
	}
}

// StabilityScore is a 0-100 figure averaging jitter-based and
// variability-based sub-scores; defaults to 50 before 10 samples.
func (e *Estimator) StabilityScore() float64 {
	if len(e.history) < 10 {
		return 50
	}
	jitterMs := float64(e.Jitter()) / float64(time.Millisecond)
	var variability float64
	if e.srtt > 0 {
		variability = float64(e.rttvar) / float64(e.srtt)
	}
	s1 := math.Max(0, 100-jitterMs*10)
	s2 := math.Max(0, 100-variability*200)
	return (s1 + s2) / 2
}

var conditionFactor = map[Condition]float64{
	Excellent: 1.5,
	Good:      1.2,
	Fair:      1.0,
	Poor:      0.8,
	Terrible:  0.5,
}

// SuggestedWindow computes the BDP-derived window (packets), clamped to
// [1, 65536], for a link of the given bandwidth in bits/sec and the
// current SRTT.
func (e *Estimator) SuggestedWindow(bandwidthBps float64, mss int) uint32 {
	if !e.hasSample || e.srtt <= 0 {
		return 1
	}
	if mss <= 0 {
		mss = 1500
	}
	srttSec := float64(e.srtt) / float64(time.Second)
	bdpPackets := bandwidthBps * srttSec / (8 * float64(mss))
	cond := e.NetworkCondition()
	k, ok := conditionFactor[cond]
	if !ok {
		k = 1.0
	}
	w := bdpPackets * k
	if w < 1 {
		w = 1
	}
	if w > 65536 {
		w = 65536
	}
	return uint32(w)
}
