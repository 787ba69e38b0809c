package twwplus

import (
	"sync"

	"github.com/rs/zerolog"
)

// ResponseHandler receives response signals.
type ResponseHandler func(ResponseSignal)

// signalBus fans response signals out to every registered handler.
// Handlers run synchronously on the emitting goroutine; a panicking handler
// is logged and does not stop the others.
type signalBus struct {
	mu       sync.RWMutex
	handlers []ResponseHandler
	logger   zerolog.Logger
}

func newSignalBus(logger zerolog.Logger) *signalBus {
	return &signalBus{logger: logger}
}

func (b *signalBus) onResponse(h ResponseHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *signalBus) emitResponse(sig ResponseSignal) {
	b.mu.RLock()
	handlers := make([]ResponseHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		safeCall(b.logger, "response handler", func() { h(sig) })
	}
}
