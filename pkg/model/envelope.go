package model

import (
	"strings"
	"time"
)

// MillisPerSecond converts gateway timestamps (seconds) into the canonical
// internal unit (milliseconds since epoch).
const MillisPerSecond = 1000

// ConversationID is the stable identity of a conversation, e.g. a phone number.
type ConversationID string

// ConversationIDFromJID strips the transport suffix ("@s.whatsapp.net") from a
// gateway sender identifier.
func ConversationIDFromJID(jid string) ConversationID {
	id, _, _ := strings.Cut(strings.TrimSpace(jid), "@")
	return ConversationID(id)
}

// SessionID returns the per-conversation thread identifier handed to the
// reply backend so that it can keep its own state across calls.
func (x ConversationID) SessionID() string {
	return "whatsapp_" + string(x)
}

// Envelope is the canonical inbound unit of work
type Envelope struct {
	ConversationID ConversationID
	Text           string
	// Timestamp is milliseconds since epoch
	Timestamp int64
	MessageID string
	PushName  string

	ReceivedAt time.Time
}

// Time converts Timestamp into time.Time
func (x *Envelope) Time() time.Time {
	return time.UnixMilli(x.Timestamp)
}

// Validate reports whether the envelope can be scheduled
func (x *Envelope) Validate() error {
	if x.ConversationID == "" {
		return ErrMissingConversation
	}
	if strings.TrimSpace(x.Text) == "" {
		return ErrEmptyText
	}
	return nil
}
