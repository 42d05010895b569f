package node

import (
	"context"
	"time"
)

type WakeReason int

const (
	WakeTimer WakeReason = iota
	WakeOverride
)

// Sleeper suspends the node until d elapses or an override wakes it.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) (WakeReason, error)
}

// TimerSleeper sleeps on a timer; Wake cuts a sleep short.
type TimerSleeper struct {
	wake chan struct{}
}

func NewTimerSleeper() *TimerSleeper {
	return &TimerSleeper{wake: make(chan struct{}, 1)}
}

// Wake may be called from any goroutine.
func (s *TimerSleeper) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Drain discards a wake left over from a press the main loop already
// handled. A Wake arriving after Drain ends the next Sleep at once.
func (s *TimerSleeper) Drain() {
	select {
	case <-s.wake:
	default:
	}
}

func (s *TimerSleeper) Sleep(ctx context.Context, d time.Duration) (WakeReason, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return WakeTimer, nil
	case <-s.wake:
		return WakeOverride, nil
	case <-ctx.Done():
		return WakeTimer, ctx.Err()
	}
}
