// Package twwplus keeps per-conversation drafts for a chat web client by
// observing the page it runs beside.
//
// A Session is fed two streams: completed network responses (through an
// http.RoundTripper wrapper or EmitResponse) and DOM mutations of a mirror
// Document. From them it learns who the conversations belong to, persists
// what the user types, and rewrites the conversation list so conversations
// with unsent text show the draft instead of the last message.
//
// Example:
//
//	loop := twwplus.NewLoop()
//	doc := twwplus.NewDocument()
//	sess := twwplus.NewSession(doc, twwplus.NewMemoryStorage(), twwplus.WithScheduler(loop))
//	go loop.Run(ctx)
//
//	client := sess.HTTPClient(http.DefaultClient)
//	resp, _ := client.Get("https://host.example/api/user")
package twwplus

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Options
// ============================================================================

type sessionConfig struct {
	sched             Scheduler
	logger            zerolog.Logger
	selectors         Selectors
	draftDebounce     time.Duration
	reconcileDebounce time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithScheduler sets the thread every session callback runs on. The default
// is a new Loop, which the caller starts through Session.Run.
func WithScheduler(s Scheduler) SessionOption {
	return func(c *sessionConfig) { c.sched = s }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// WithSelectors overrides the host page selectors.
func WithSelectors(s Selectors) SessionOption {
	return func(c *sessionConfig) { c.selectors = s }
}

// WithDraftDebounce sets the draft write quiet period.
func WithDraftDebounce(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.draftDebounce = d }
}

// WithReconcileDebounce sets the list reconciliation quiet period.
func WithReconcileDebounce(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.reconcileDebounce = d }
}

// ============================================================================
// Session
// ============================================================================

// Session is the overlay for one page session. Its directory and cache
// start empty and are discarded with it; drafts live in the Storage.
type Session struct {
	sched  Scheduler
	logger zerolog.Logger
	doc    *Document
	bus    *signalBus

	directory *Directory
	cache     *ConversationCache
	drafts    *DraftStore
	watcher   *Watcher
	sync      *Synchronizer

	stopWatch func() error
}

// NewSession builds a session over doc persisting drafts to storage.
func NewSession(doc *Document, storage Storage, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		logger:            zerolog.Nop(),
		selectors:         DefaultSelectors(),
		draftDebounce:     DefaultDraftDebounce,
		reconcileDebounce: DefaultReconcileDebounce,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sched == nil {
		cfg.sched = NewLoop(WithLoopLogger(cfg.logger))
	}

	s := &Session{
		sched:     cfg.sched,
		logger:    cfg.logger,
		doc:       doc,
		bus:       newSignalBus(cfg.logger),
		directory: NewDirectory(cfg.logger),
		cache:     NewConversationCache(cfg.logger),
	}
	s.drafts = NewDraftStore(storage, s.sched, cfg.draftDebounce, cfg.logger)
	s.sync = NewSynchronizer(doc, s.sched, s.directory, s.cache, s.drafts,
		cfg.selectors, cfg.reconcileDebounce, cfg.logger)
	s.watcher = NewWatcher(doc, s.sched, cfg.logger)
	s.watcher.OnChange(s.sync.HandleBatch)

	s.bus.onResponse(s.deliverResponse)

	if ws, ok := storage.(WatchableStorage); ok {
		stop, err := ws.Watch(func() { s.sched.Post(s.drafts.Invalidate) })
		if err != nil {
			s.logger.Debug().Err(err).Msg("draft storage is not watchable")
		} else {
			s.stopWatch = stop
		}
	}
	return s
}

// tryPoster is a Scheduler that can refuse work instead of blocking.
type tryPoster interface {
	TryPost(fn func()) bool
}

// deliverResponse hands a signal to the scheduler without holding up the
// goroutine reading the response. Signals that do not fit are dropped.
func (s *Session) deliverResponse(sig ResponseSignal) {
	task := func() {
		s.directory.HandleResponse(sig)
		s.cache.HandleResponse(sig)
	}
	tp, ok := s.sched.(tryPoster)
	if !ok {
		s.sched.Post(task)
		return
	}
	if !tp.TryPost(task) {
		s.logger.Warn().Str("url", sig.URL).Msg("scheduler busy, dropping response")
	}
}

// Run drives the session's Loop until ctx ends. It returns immediately with
// nil when the session uses some other scheduler.
func (s *Session) Run(ctx context.Context) error {
	if loop, ok := s.sched.(*Loop); ok {
		return loop.Run(ctx)
	}
	return nil
}

// Scheduler returns the session's scheduler.
func (s *Session) Scheduler() Scheduler { return s.sched }

// Document returns the mirrored page.
func (s *Session) Document() *Document { return s.doc }

// Directory returns the identity directory.
func (s *Session) Directory() *Directory { return s.directory }

// Cache returns the conversation state cache.
func (s *Session) Cache() *ConversationCache { return s.cache }

// Drafts returns the draft store.
func (s *Session) Drafts() *DraftStore { return s.drafts }

// Synchronizer returns the draft/list synchronizer.
func (s *Session) Synchronizer() *Synchronizer { return s.sync }

// OnResponse registers an extra response handler. It runs on the goroutine
// that completed the response, not on the scheduler.
func (s *Session) OnResponse(h ResponseHandler) { s.bus.onResponse(h) }

// EmitResponse feeds a completed response into the session. Safe to call
// from any goroutine.
func (s *Session) EmitResponse(sig ResponseSignal) { s.bus.emitResponse(sig) }

// Transport wraps base so its responses feed the session.
func (s *Session) Transport(base http.RoundTripper) http.RoundTripper {
	return NewInterceptor(base, s.EmitResponse)
}

// HTTPClient returns a copy of base whose transport feeds the session.
func (s *Session) HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	c := *base
	c.Transport = s.Transport(base.Transport)
	return &c
}

// Close writes pending drafts and stops watching storage. It must run on
// the session's scheduler.
func (s *Session) Close() error {
	s.drafts.Flush()
	if s.stopWatch != nil {
		err := s.stopWatch()
		s.stopWatch = nil
		return err
	}
	return nil
}
