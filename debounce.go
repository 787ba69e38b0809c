package twwplus

import "time"

// Debouncer runs the most recently submitted action once the submission
// stream has been quiet for the configured window.
type Debouncer struct {
	sched  Scheduler
	window time.Duration
	timer  Timer
}

// NewDebouncer creates a trailing-edge debouncer on sched.
func NewDebouncer(sched Scheduler, window time.Duration) *Debouncer {
	return &Debouncer{sched: sched, window: window}
}

// Call cancels any pending action and arms fn for one window from now.
func (d *Debouncer) Call(fn func()) {
	if d.timer != nil {
		d.timer.Stop()
	}
	var t Timer
	t = d.sched.AfterFunc(d.window, func() {
		if d.timer == t {
			d.timer = nil
		}
		fn()
	})
	d.timer = t
}

// Pending reports whether an action is armed.
func (d *Debouncer) Pending() bool { return d.timer != nil }

// Stop cancels the pending action, if any.
func (d *Debouncer) Stop() bool {
	if d.timer == nil {
		return false
	}
	stopped := d.timer.Stop()
	d.timer = nil
	return stopped
}
