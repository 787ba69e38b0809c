package twwplus

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultDraftDebounce is the quiet period before typed text is persisted.
const DefaultDraftDebounce = 150 * time.Millisecond

// DraftStore persists per-conversation draft text with a trailing debounce.
// Only the last value in a burst of Save calls for a key reaches storage.
//
// Like the rest of a session, a DraftStore must only be used from its
// scheduler's thread.
type DraftStore struct {
	storage Storage
	sched   Scheduler
	window  time.Duration
	logger  zerolog.Logger

	slots map[ConversationKey]*draftSlot
	echo  map[ConversationKey]string
}

type draftSlot struct {
	debounce  *Debouncer
	text      string
	onPersist func(string)
}

// NewDraftStore creates a store writing to storage after window of quiet.
func NewDraftStore(storage Storage, sched Scheduler, window time.Duration, logger zerolog.Logger) *DraftStore {
	if window <= 0 {
		window = DefaultDraftDebounce
	}
	return &DraftStore{
		storage: storage,
		sched:   sched,
		window:  window,
		logger:  logger,
		slots:   make(map[ConversationKey]*draftSlot),
		echo:    make(map[ConversationKey]string),
	}
}

// Save schedules text to be written under key. A newer Save for the same key
// before the window elapses replaces it. onPersist, if set, runs after the
// write with the written text.
func (s *DraftStore) Save(key ConversationKey, text string, onPersist func(string)) {
	slot, ok := s.slots[key]
	if !ok {
		slot = &draftSlot{debounce: NewDebouncer(s.sched, s.window)}
		s.slots[key] = slot
	}
	slot.text = text
	slot.onPersist = onPersist
	slot.debounce.Call(func() { s.commit(key, slot) })
}

func (s *DraftStore) commit(key ConversationKey, slot *draftSlot) {
	text, onPersist := slot.text, slot.onPersist
	slot.onPersist = nil
	s.write(key, text)
	if onPersist != nil {
		safeCall(s.logger, "draft persist callback", func() { onPersist(text) })
	}
}

func (s *DraftStore) write(key ConversationKey, text string) {
	if s.storage == nil {
		return
	}
	if err := s.storage.Set(string(key), text); err != nil {
		s.logger.Warn().Err(err).Str("key", string(key)).Msg("draft write failed")
		delete(s.echo, key)
		return
	}
	s.echo[key] = text
}

// Read returns the draft for key. Storage errors read as no draft.
func (s *DraftStore) Read(key ConversationKey) (string, bool) {
	if text, ok := s.echo[key]; ok {
		return text, true
	}
	if s.storage == nil {
		return "", false
	}
	text, ok, err := s.storage.Get(string(key))
	if err != nil {
		s.logger.Debug().Err(err).Str("key", string(key)).Msg("draft read failed")
		return "", false
	}
	if !ok {
		return "", false
	}
	s.echo[key] = text
	return text, true
}

// Pending reports whether a write for key is waiting for its window.
func (s *DraftStore) Pending(key ConversationKey) bool {
	slot, ok := s.slots[key]
	return ok && slot.debounce.Pending()
}

// Flush writes every pending draft immediately.
func (s *DraftStore) Flush() {
	for key, slot := range s.slots {
		if slot.debounce.Stop() {
			s.commit(key, slot)
		}
	}
}

// Invalidate drops the in-memory copies so the next Read goes to storage.
func (s *DraftStore) Invalidate() {
	s.echo = make(map[ConversationKey]string)
}
