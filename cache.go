package twwplus

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// ConversationCache keeps the most recent message summary per conversation,
// learned from the host's recent-messages listing. It is owned by one Session
// and is not safe for concurrent use.
type ConversationCache struct {
	summaries map[ConversationKey]MessageSummary
	logger    zerolog.Logger
}

type recentRecord struct {
	SenderID     flexID         `json:"senderId"`
	ReceiverID   flexID         `json:"receiverId"`
	ReceiverType *ReceiverType  `json:"receiverType"`
	State        map[string]any `json:"state"`
	Meta         *MessageMeta   `json:"meta"`
}

// NewConversationCache returns an empty cache.
func NewConversationCache(logger zerolog.Logger) *ConversationCache {
	return &ConversationCache{
		summaries: make(map[ConversationKey]MessageSummary),
		logger:    logger,
	}
}

// HandleResponse folds a recent-messages listing into the cache. Other URLs
// and malformed bodies are ignored.
func (c *ConversationCache) HandleResponse(sig ResponseSignal) {
	if sig.ResponseText == "" || classifyEndpoint(sig.URL) != endpointRecent {
		return
	}
	var payload listPayload
	if err := decodeValidated(listPayloadSchema, sig.ResponseText, &payload); err != nil {
		c.logger.Debug().Err(err).Str("url", sig.URL).Msg("dropping recent messages")
		return
	}
	for _, raw := range payload.Data {
		var rec recentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed recent message")
			continue
		}
		key, summary, ok := assignRecent(rec)
		if !ok {
			continue
		}
		c.summaries[key] = summary
	}
}

// assignRecent picks the conversation a recent message belongs to. A sender
// whose own state is 1 sent the message, so the conversation is addressed by
// the receiver; otherwise the message was received and, for personal chats,
// the sender is the peer.
func assignRecent(rec recentRecord) (ConversationKey, MessageSummary, bool) {
	if rec.ReceiverType == nil || rec.SenderID == "" || rec.ReceiverID == "" {
		return "", MessageSummary{}, false
	}
	sender, receiver := string(rec.SenderID), string(rec.ReceiverID)

	summary := MessageSummary{
		SenderID:     sender,
		ReceiverID:   receiver,
		ReceiverType: *rec.ReceiverType,
		State:        make(map[string]int, len(rec.State)),
	}
	for id, v := range rec.State {
		summary.State[id] = stateCode(v)
	}
	if rec.Meta != nil {
		summary.Meta = *rec.Meta
	}

	var key ConversationKey
	switch *rec.ReceiverType {
	case ReceiverPersonal:
		if summary.State[sender] == 1 {
			key = NewConversationKey(KindUser, receiver)
		} else {
			key = NewConversationKey(KindUser, sender)
		}
	case ReceiverGroup:
		switch {
		case summary.State[sender] == 1:
			key = NewConversationKey(KindGroup, receiver)
		case summary.State[receiver] == 1:
			key = NewConversationKey(KindGroup, sender)
		default:
			key = NewConversationKey(KindGroup, receiver)
		}
	default:
		return "", MessageSummary{}, false
	}
	return key, summary, true
}

// Get returns the cached summary for key.
func (c *ConversationCache) Get(key ConversationKey) (MessageSummary, bool) {
	s, ok := c.summaries[key]
	return s, ok
}

// Len reports how many conversations have a cached summary.
func (c *ConversationCache) Len() int { return len(c.summaries) }
