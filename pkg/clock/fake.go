package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. Waiters whose deadline is
// reached fire in deadline order; AfterFunc callbacks run on the goroutine
// calling Advance.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*pendingWait
}

type pendingWait struct {
	at       time.Time
	every    time.Duration
	ch       chan time.Time
	fn       func()
	canceled bool
	done     bool
}

// NewFake returns a FakeClock frozen at start.
func NewFake(start time.Time) *FakeClock {
	fc := &FakeClock{now: start}
	fc.changed = sync.NewCond(&fc.mu)

	return fc
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	return fc.now
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	ch := make(chan time.Time, 1)

	if d <= 0 {
		ch <- fc.now

		return ch
	}

	fc.addLocked(&pendingWait{at: fc.now.Add(d), ch: ch})

	return ch
}

func (fc *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()

		return &Timer{stop: func() bool { return false }}
	}

	fc.mu.Lock()
	wait := &pendingWait{at: fc.now.Add(d), fn: f}
	fc.addLocked(wait)
	fc.mu.Unlock()

	return &Timer{stop: func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()

		if wait.canceled || wait.done {
			return false
		}

		wait.canceled = true
		fc.changed.Broadcast()

		return true
	}}
}

func (fc *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	ch := make(chan time.Time, 1)
	wait := &pendingWait{at: fc.now.Add(d), every: d, ch: ch}
	fc.addLocked(wait)

	return &Ticker{
		C: ch,
		stop: func() {
			fc.mu.Lock()
			wait.canceled = true
			fc.changed.Broadcast()
			fc.mu.Unlock()
		},
		reset: func(d time.Duration) {
			fc.mu.Lock()
			defer fc.mu.Unlock()

			wait.every = d
			wait.at = fc.now.Add(d)

			if wait.canceled {
				wait.canceled = false

				for _, existing := range fc.pending {
					if existing == wait {
						return
					}
				}

				fc.addLocked(wait)
			}
		},
	}
}

// Advance moves the clock forward by d and fires every waiter that falls due.
// A ticker spanning several intervals fires once per interval, subject to
// its one slot buffer.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	fc.now = fc.now.Add(d)
	target := fc.now
	fc.mu.Unlock()

	for {
		due := fc.takeDue(target)
		if len(due) == 0 {
			return
		}

		for _, wait := range due {
			if wait.fn != nil {
				wait.fn()

				continue
			}

			select {
			case wait.ch <- target:
			default:
			}
		}
	}
}

// Pending returns the number of live timers, tickers and After channels.
func (fc *FakeClock) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	return fc.pendingLocked()
}

// WaitForTimers blocks until at least n waiters are registered. Tests use it
// to make sure a goroutine has started waiting before advancing.
func (fc *FakeClock) WaitForTimers(n int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for fc.pendingLocked() < n {
		fc.changed.Wait()
	}
}

func (fc *FakeClock) addLocked(wait *pendingWait) {
	fc.pending = append(fc.pending, wait)
	fc.changed.Broadcast()
}

func (fc *FakeClock) pendingLocked() (count int) {
	for _, wait := range fc.pending {
		if !wait.canceled {
			count++
		}
	}

	return count
}

func (fc *FakeClock) takeDue(target time.Time) []*pendingWait {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var due, keep []*pendingWait

	for _, wait := range fc.pending {
		switch {
		case wait.canceled:
		case wait.at.After(target):
			keep = append(keep, wait)
		default:
			due = append(due, wait)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].at.Before(due[j].at)
	})

	for _, wait := range due {
		if wait.every > 0 {
			wait.at = wait.at.Add(wait.every)
			keep = append(keep, wait)
		} else {
			wait.done = true
		}
	}

	fc.pending = keep
	fc.changed.Broadcast()

	return due
}
