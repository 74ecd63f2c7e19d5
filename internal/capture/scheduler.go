package capture

import (
	"sync"
	"time"
)

// Timer is a cancellable deferred call.
type Timer interface {
	Stop() bool
}

// Ticker is a cancellable periodic call.
type Ticker interface {
	Stop()
}

// Scheduler abstracts the clock and timer primitives the pipeline relies on,
// so tests drive every timeout, poll and sweep from a virtual clock.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Ticker
}

// RealScheduler returns a Scheduler backed by the wall clock.
func RealScheduler() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) Now() time.Time {
	return time.Now()
}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realScheduler) Every(d time.Duration, f func()) Ticker {
	t := &realTicker{ticker: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				f()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *realTicker) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
