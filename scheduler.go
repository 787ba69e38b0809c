package twwplus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFrameInterval is the cadence at which a Loop runs frame callbacks.
const DefaultFrameInterval = 16 * time.Millisecond

// Timer is a pending scheduler callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the callback was still pending.
	Stop() bool
}

// Scheduler serialises all overlay work onto one execution context.
//
// Callbacks passed to any method run on the scheduler's thread, never
// concurrently with each other.
type Scheduler interface {
	// Post queues fn to run as soon as possible.
	Post(fn func())
	// AfterFunc queues fn to run once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// NextFrame queues fn for the next frame boundary.
	NextFrame(fn func())
}

// ============================================================================
// Loop
// ============================================================================

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithFrameInterval sets the frame cadence.
func WithFrameInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.frameInterval = d
		}
	}
}

// WithLoopLogger sets the logger used to report panicking callbacks.
func WithLoopLogger(logger zerolog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// Loop is a single-goroutine Scheduler driven by Run.
type Loop struct {
	tasks         chan func()
	done          chan struct{}
	doneOnce      sync.Once
	frameInterval time.Duration
	logger        zerolog.Logger

	mu     sync.Mutex
	frames []func()
}

// NewLoop creates a loop. Nothing runs until Run is called.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		tasks:         make(chan func(), 1024),
		done:          make(chan struct{}),
		frameInterval: DefaultFrameInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes queued callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.frameInterval)
	defer ticker.Stop()
	defer l.doneOnce.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.safeRun(fn)
		case <-ticker.C:
			l.runFrame()
		}
	}
}

// Post queues fn. It is dropped if the loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// TryPost queues fn without blocking. It reports false when the queue is
// full or the loop has stopped.
func (l *Loop) TryPost(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped.Load() || lt.ran.Swap(true) {
				return
			}
			fn()
		})
	})
	return lt
}

func (l *Loop) NextFrame(fn func()) {
	l.mu.Lock()
	l.frames = append(l.frames, fn)
	l.mu.Unlock()
}

func (l *Loop) runFrame() {
	l.mu.Lock()
	frames := l.frames
	l.frames = nil
	l.mu.Unlock()

	for _, fn := range frames {
		l.safeRun(fn)
	}
}

func (l *Loop) safeRun(fn func()) {
	safeCall(l.logger, "scheduled callback", fn)
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
	ran     atomic.Bool
}

// Stop also cancels a callback that has fired but is still queued on the loop.
func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	if t.stopped.Swap(true) {
		return false
	}
	return !t.ran.Load()
}

// safeCall runs fn, logging instead of propagating a panic.
func safeCall(logger zerolog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msgf("%s panicked", what)
		}
	}()
	fn()
}
