package twwplus

import (
	"sort"
	"time"
)

// ManualScheduler is a deterministic Scheduler whose clock and frames only
// move when told to. Post runs callbacks inline.
type ManualScheduler struct {
	now    time.Duration
	seq    int
	timers []*manualTimer
	frames []func()
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManualScheduler returns a scheduler at virtual time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Now returns the virtual time elapsed since creation.
func (m *ManualScheduler) Now() time.Duration { return m.now }

func (m *ManualScheduler) Post(fn func()) { fn() }

func (m *ManualScheduler) TryPost(fn func()) bool {
	fn()
	return true
}

func (m *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *ManualScheduler) NextFrame(fn func()) {
	m.frames = append(m.frames, fn)
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers scheduled by those callbacks fire too if they fall inside the window.
func (m *ManualScheduler) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.fired = true
		next.fn()
	}
	m.now = target
	m.compact()
}

// RunFrame runs the callbacks queued for the current frame and returns how
// many ran. Callbacks queued while running wait for the following frame.
func (m *ManualScheduler) RunFrame() int {
	frames := m.frames
	m.frames = nil
	for _, fn := range frames {
		fn()
	}
	return len(frames)
}

// PendingFrames reports how many callbacks wait for the next frame.
func (m *ManualScheduler) PendingFrames() int { return len(m.frames) }

// PendingTimers reports how many timers are armed.
func (m *ManualScheduler) PendingTimers() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (m *ManualScheduler) nextDue(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (m *ManualScheduler) compact() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
}
