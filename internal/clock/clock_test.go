package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBacktestClockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	c := NewBacktestClock(start)
	assert.Equal(t, start, c.Now())

	next := start.Add(5 * time.Minute)
	c.Advance(next)
	assert.Equal(t, next, c.Now())
}

func TestBacktestClockSleepUntilNoOp(t *testing.T) {
	c := NewBacktestClock(time.Now())
	err := c.SleepUntil(context.Background(), time.Now().Add(time.Hour))
	assert.NoError(t, err)
}

func TestBacktestClockSleepUntilRespectsCancellation(t *testing.T) {
	c := NewBacktestClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.SleepUntil(ctx, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLiveClockNowUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	c := NewLiveClock(loc)
	now := c.Now()
	assert.Equal(t, loc, now.Location())
}

func TestLiveClockSleepUntilPast(t *testing.T) {
	c := NewLiveClock(time.UTC)
	err := c.SleepUntil(context.Background(), time.Now().Add(-time.Second))
	assert.NoError(t, err)
}

func TestLiveClockSleepUntilCancellation(t *testing.T) {
	c := NewLiveClock(time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := c.SleepUntil(ctx, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}
