package drive

import (
	"sync/atomic"
	"time"
)

// DefaultTicksPerSecond is the nominal frame rate of the real scheduler
const DefaultTicksPerSecond = 60

// Frame is a scheduled, not yet delivered tick
type Frame interface {
	// Cancel prevents the frame from firing. Canceling a fired frame is a no-op.
	Cancel()
}

// Scheduler delivers one-shot frame callbacks, the way a browser delivers
// animation frames. The callback receives the frame timestamp.
type Scheduler interface {
	Now() time.Time
	Schedule(fn func(now time.Time)) Frame
}

// FrameScheduler fires frames from timers and runs them on a Loop
type FrameScheduler struct {
	loop     *Loop
	interval time.Duration
}

// NewFrameScheduler creates a scheduler targeting ticksPerSecond frames per second
func NewFrameScheduler(loop *Loop, ticksPerSecond int) *FrameScheduler {
	if ticksPerSecond <= 0 {
		ticksPerSecond = DefaultTicksPerSecond
	}
	return &FrameScheduler{
		loop:     loop,
		interval: time.Second / time.Duration(ticksPerSecond),
	}
}

// Now returns the wall clock
func (s *FrameScheduler) Now() time.Time {
	return time.Now()
}

// Schedule arranges for fn to run on the loop after one frame interval
func (s *FrameScheduler) Schedule(fn func(now time.Time)) Frame {
	f := &timerFrame{}
	f.timer = time.AfterFunc(s.interval, func() {
		s.loop.Post(func() {
			// Cancel may have raced the timer; the loop is where it settles
			if f.canceled.Load() {
				return
			}
			fn(time.Now())
		})
	})
	return f
}

type timerFrame struct {
	timer    *time.Timer
	canceled atomic.Bool
}

func (f *timerFrame) Cancel() {
	f.canceled.Store(true)
	if f.timer != nil {
		f.timer.Stop()
	}
}

// ManualScheduler is a virtual-clock scheduler. Frames fire only when the
// owner calls Advance, on the caller's goroutine, which makes simulations
// deterministic.
type ManualScheduler struct {
	now     time.Time
	pending []*manualFrame
}

type manualFrame struct {
	fn       func(time.Time)
	canceled bool
}

func (f *manualFrame) Cancel() { f.canceled = true }

// NewManualScheduler creates a manual scheduler whose clock starts at start
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the virtual clock
func (m *ManualScheduler) Now() time.Time {
	return m.now
}

// Schedule queues fn for the next Advance
func (m *ManualScheduler) Schedule(fn func(now time.Time)) Frame {
	f := &manualFrame{fn: fn}
	m.pending = append(m.pending, f)
	return f
}

// Advance moves the clock forward by d and fires every frame that was pending
// before the call. Frames scheduled while firing wait for the next Advance.
// It returns the number of frames fired.
func (m *ManualScheduler) Advance(d time.Duration) int {
	m.now = m.now.Add(d)
	due := m.pending
	m.pending = nil

	fired := 0
	for _, f := range due {
		if f.canceled {
			continue
		}
		f.fn(m.now)
		fired++
	}
	return fired
}

// Pending returns the number of live frames waiting to fire
func (m *ManualScheduler) Pending() int {
	n := 0
	for _, f := range m.pending {
		if !f.canceled {
			n++
		}
	}
	return n
}

// RunUntilIdle advances by d until no frames are pending or maxFrames frames
// have fired. It returns the number of frames fired.
func (m *ManualScheduler) RunUntilIdle(d time.Duration, maxFrames int) int {
	total := 0
	for m.Pending() > 0 && total < maxFrames {
		total += m.Advance(d)
	}
	return total
}
