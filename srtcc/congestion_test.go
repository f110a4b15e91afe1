package srtcc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAIMDSlowStartThenLoss(t *testing.T) {
	s := NewState(1500)
	assert.Equal(t, 2.0, s.Cwnd)
	assert.True(t, s.InSlowStart)

	for i := 0; i < 5; i++ {
		s.OnAck()
	}
	assert.InDelta(t, 7.0, s.Cwnd, 1e-9)
	assert.True(t, s.InSlowStart)

	s.OnLoss(time.Now(), 2)
	assert.False(t, s.InSlowStart)
	assert.InDelta(t, 3.5, s.SSThresh, 1e-9)
	assert.InDelta(t, 6.125, s.Cwnd, 1e-9)
}

func TestCongestionAvoidanceIncrement(t *testing.T) {
	s := NewState(1500)
	s.InSlowStart = false
	s.Cwnd = 10
	s.OnAck()
	assert.InDelta(t, 10.1, s.Cwnd, 1e-9)
}

func TestSendingRateClamped(t *testing.T) {
	s := NewState(1500)
	rate := s.SendingRateBps(1 * time.Millisecond)
	assert.GreaterOrEqual(t, rate, s.MinRateBps)
	assert.LessOrEqual(t, rate, s.MaxRateBps)
}

func TestConditionLabelFromLossRate(t *testing.T) {
	s := NewState(1500)
	s.Sent = 1000
	s.Lost = 2
	s.recomputeLossRate()
	assert.Equal(t, Excellent, s.ConditionLabel())

	s.Lost = 200
	s.recomputeLossRate()
	assert.Equal(t, Poor, s.ConditionLabel())
}
