package twwplus

import "github.com/rs/zerolog"

// Watcher collects the mutations of a Document and delivers them as one
// batch per frame. Records are delivered in the order they happened.
type Watcher struct {
	sched     Scheduler
	logger    zerolog.Logger
	handlers  []func(MutationBatch)
	pending   MutationBatch
	scheduled bool
}

// NewWatcher starts observing doc. Observation lasts for the document's
// lifetime.
func NewWatcher(doc *Document, sched Scheduler, logger zerolog.Logger) *Watcher {
	w := &Watcher{sched: sched, logger: logger}
	doc.observe(w.enqueue)
	return w
}

// OnChange registers a batch handler.
func (w *Watcher) OnChange(h func(MutationBatch)) {
	w.handlers = append(w.handlers, h)
}

func (w *Watcher) enqueue(rec MutationRecord) {
	w.pending = append(w.pending, rec)
	if w.scheduled {
		return
	}
	w.scheduled = true
	w.sched.NextFrame(w.flush)
}

func (w *Watcher) flush() {
	batch := w.pending
	w.pending = nil
	w.scheduled = false
	if len(batch) == 0 {
		return
	}
	for _, h := range w.handlers {
		safeCall(w.logger, "mutation handler", func() { h(batch) })
	}
}
