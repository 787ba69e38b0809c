package twwplus

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// DefaultReconcileDebounce is the quiet period after list changes before
// draft previews are reapplied.
const DefaultReconcileDebounce = 16 * time.Millisecond

// ViewState is what a conversation's list row currently shows.
type ViewState int

const (
	// StateCanonical rows show the last real message.
	StateCanonical ViewState = iota
	// StateDrafting rows show the editing marker and the draft.
	StateDrafting
)

func (s ViewState) String() string {
	if s == StateDrafting {
		return "drafting"
	}
	return "canonical"
}

// Synchronizer keeps the conversation editor and the conversation list in
// step with saved drafts.
type Synchronizer struct {
	doc    *Document
	sched  Scheduler
	dir    *Directory
	cache  *ConversationCache
	drafts *DraftStore
	sel    Selectors
	logger zerolog.Logger

	reconcile *Debouncer
	states    map[ConversationKey]ViewState
}

// NewSynchronizer wires the collaborators together. Feed it batches through
// HandleBatch.
func NewSynchronizer(doc *Document, sched Scheduler, dir *Directory, cache *ConversationCache,
	drafts *DraftStore, sel Selectors, reconcileWindow time.Duration, logger zerolog.Logger) *Synchronizer {
	if reconcileWindow <= 0 {
		reconcileWindow = DefaultReconcileDebounce
	}
	return &Synchronizer{
		doc:       doc,
		sched:     sched,
		dir:       dir,
		cache:     cache,
		drafts:    drafts,
		sel:       sel.WithDefaults(),
		logger:    logger,
		reconcile: NewDebouncer(sched, reconcileWindow),
		states:    make(map[ConversationKey]ViewState),
	}
}

// State returns the view state of key. Unknown keys are canonical.
func (s *Synchronizer) State(key ConversationKey) ViewState {
	return s.states[key]
}

// HandleBatch reacts to one batch of mutations, first record first.
func (s *Synchronizer) HandleBatch(batch MutationBatch) {
	for _, rec := range batch {
		if s.editableMounted(rec) {
			s.bindEditable(rec.Target)
		}
		if rec.Target != nil && s.sel.isListContainer(ClassName(rec.Target)) {
			s.reconcile.Call(s.reconcileList)
		}
	}
}

func (s *Synchronizer) editableMounted(rec MutationRecord) bool {
	if rec.Type != MutationChildList || len(rec.Added) != 0 || rec.Target == nil {
		return false
	}
	if ClassName(rec.Target) != s.sel.ConversationView {
		return false
	}
	next := nextElementSibling(rec.NextSibling)
	return next != nil && ClassName(next) == s.sel.InputBox
}

// ── Editor ──────────────────────────────────────────────

func (s *Synchronizer) bindEditable(view *html.Node) {
	editable := s.doc.Query(view, s.sel.Editable)
	if editable == nil {
		return
	}
	peer, ok := s.openConversation()
	if !ok {
		s.logger.Debug().Msg("open conversation not in directory, editor left unbound")
		return
	}
	key, ok := s.dir.Key(peer)
	if !ok {
		s.logger.Debug().Str("id", peer).Msg("conversation kind unknown, editor left unbound")
		return
	}

	s.doc.SetInputListener(editable, func(text string) {
		s.drafts.Save(key, text, func(persisted string) {
			s.applyDraft(key, peer, persisted)
		})
	})

	draft, _ := s.drafts.Read(key)
	if err := s.doc.SetInnerHTML(editable, draft); err != nil {
		s.logger.Debug().Err(err).Str("key", string(key)).Msg("restoring draft failed")
	}
	if draft != "" {
		s.states[key] = StateDrafting
	} else {
		s.states[key] = StateCanonical
	}
}

// openConversation resolves the identity shown in the navigation bar.
func (s *Synchronizer) openConversation() (string, bool) {
	name := s.doc.Query(nil, s.sel.ConversationName)
	if name == nil {
		return "", false
	}
	return s.dir.IDByName(TextContent(name))
}

func (s *Synchronizer) applyDraft(key ConversationKey, peer, text string) {
	row := s.findRow(key)
	if text == "" {
		s.states[key] = StateCanonical
		if row != nil {
			s.showCanonical(row, key, peer)
		}
		return
	}
	s.states[key] = StateDrafting
	if row != nil {
		s.showDraft(row, text)
	}
}

// ── List rows ───────────────────────────────────────────

func (s *Synchronizer) findRow(key ConversationKey) *html.Node {
	for _, row := range s.doc.QueryAll(nil, s.sel.RowItem) {
		if v, ok := Attr(row, s.sel.RowKey); ok && v == string(key) {
			return row
		}
	}
	return nil
}

func (s *Synchronizer) showDraft(row *html.Node, text string) {
	if member := s.doc.Query(row, s.sel.Member); member != nil {
		s.setHTML(member, EditingMarker)
	} else if subject := s.doc.Query(row, s.sel.Subject); subject != nil {
		markup := `<div class="who"><span class="member">` + EditingMarker + `</span></div>`
		if err := s.doc.InsertAfter(subject, markup); err != nil {
			s.logger.Debug().Err(err).Msg("inserting editing marker failed")
		}
	}
	if preview := s.doc.Query(row, s.sel.Preview); preview != nil {
		s.setHTML(preview, text)
	}
}

func (s *Synchronizer) showCanonical(row *html.Node, key ConversationKey, peer string) {
	summary, ok := s.cache.Get(key)
	if !ok {
		s.logger.Debug().Str("key", string(key)).Msg("no cached message to restore row from")
		return
	}
	if member := s.doc.Query(row, s.sel.Member); member != nil {
		if summary.SenderID == peer {
			s.doc.Remove(member)
		} else {
			s.setHTML(member, html.EscapeString(s.senderLabel(summary.SenderID))+":")
		}
	}
	if preview := s.doc.Query(row, s.sel.Preview); preview != nil {
		if text, ok := summary.Preview(); ok {
			s.setHTML(preview, text)
		}
	}
}

func (s *Synchronizer) senderLabel(sender string) string {
	if me := s.dir.Me(); me != "" && sender == me {
		return "You"
	}
	name, _ := s.dir.NameByID(sender)
	return name
}

func (s *Synchronizer) setHTML(n *html.Node, markup string) {
	if InnerHTML(n) == markup {
		return
	}
	if err := s.doc.SetInnerHTML(n, markup); err != nil {
		s.logger.Debug().Err(err).Msg("row update failed")
	}
}

// reconcileList reapplies saved drafts to every visible row, one row per
// frame callback. Rows are looked up again when each callback runs because
// the list recycles its row elements.
func (s *Synchronizer) reconcileList() {
	rows := s.doc.QueryAll(nil, s.sel.Rows)
	for i := range rows {
		idx := i
		s.sched.NextFrame(func() { s.reconcileRow(idx) })
	}
}

func (s *Synchronizer) reconcileRow(idx int) {
	rows := s.doc.QueryAll(nil, s.sel.Rows)
	if idx >= len(rows) {
		return
	}
	row := rows[idx]
	key, ok := Attr(row, s.sel.RowKey)
	if !ok || key == "" {
		return
	}
	draft, _ := s.drafts.Read(ConversationKey(key))
	if draft == "" {
		return
	}
	s.states[ConversationKey(key)] = StateDrafting
	s.showDraft(row, draft)
}
