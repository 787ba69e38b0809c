package twwplus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotImplemented is returned for storage schemes that are recognised but unsupported.
	ErrNotImplemented = errors.New("not implemented")
	// ErrInvalidInput is returned when a caller passes a malformed argument.
	ErrInvalidInput = errors.New("invalid input")
)

// ============================================================================
// Identities
// ============================================================================

// Kind tells a group identity apart from a user identity. Its value is the
// one-character tag that prefixes conversation keys.
type Kind string

const (
	KindUser  Kind = "u"
	KindGroup Kind = "g"
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	}
	return "unknown"
}

// Identity is one directory entry learned from a group or user listing.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Kind        Kind   `json:"kind"`
}

// ConversationKey addresses a conversation: its kind concatenated with its id.
type ConversationKey string

// NewConversationKey builds the key for an identity of the given kind.
func NewConversationKey(kind Kind, id string) ConversationKey {
	return ConversationKey(string(kind) + id)
}

// ============================================================================
// Message summaries
// ============================================================================

// ReceiverType is the numeric conversation type carried by a recent message.
type ReceiverType int

const (
	ReceiverPersonal ReceiverType = 0
	ReceiverGroup    ReceiverType = 1
)

// Kind maps the receiver type to an identity kind.
func (r ReceiverType) Kind() (Kind, bool) {
	switch r {
	case ReceiverPersonal:
		return KindUser, true
	case ReceiverGroup:
		return KindGroup, true
	}
	return "", false
}

// MessageMeta is the payload portion of a message the list preview is built from.
type MessageMeta struct {
	Content *string           `json:"content,omitempty"`
	Files   []json.RawMessage `json:"file,omitempty"`
}

// MessageSummary is the most recent message of one conversation.
type MessageSummary struct {
	SenderID     string         `json:"senderId"`
	ReceiverID   string         `json:"receiverId"`
	ReceiverType ReceiverType   `json:"receiverType"`
	State        map[string]int `json:"state,omitempty"`
	Meta         MessageMeta    `json:"meta"`
}

// Preview renders the list preview text for the message. ok is false when the
// message carries neither content nor file metadata.
func (m MessageSummary) Preview() (string, bool) {
	if m.Meta.Content != nil {
		return *m.Meta.Content, true
	}
	if len(m.Meta.Files) > 0 {
		return fmt.Sprintf("[sent %d file(s)]", len(m.Meta.Files)), true
	}
	return "", false
}

// ============================================================================
// Response signals
// ============================================================================

// ResponseSignal is emitted once for every completed host response whose body
// was read.
type ResponseSignal struct {
	Method       string `json:"method"`
	URL          string `json:"url"`
	ResponseText string `json:"responseText"`
}

// ============================================================================
// Wire helpers
// ============================================================================

// flexID decodes an identifier the host may send as either a JSON string or
// a JSON number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// isJSONTrue reports whether raw is exactly the JSON literal true.
func isJSONTrue(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
}

// stateCode converts a decoded delivery-state value to an int, or -1.
func stateCode(v any) int {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	case json.Number:
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return -1
}
