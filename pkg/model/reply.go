package model

import (
	"slices"
	"strings"
	"time"
)

const (
	// DefaultContextLimit is the number of context items retrieved per run
	DefaultContextLimit = 5
	// HistoryWindow is the number of most recent context items sent to the reply backend
	HistoryWindow = 3
)

// ReplyRequest is the augmented request handed to a reply backend
type ReplyRequest struct {
	Query          string
	ConversationID ConversationID
	UserID         string
	SessionID      string
	History        string
}

// Inputs returns the free-form inputs map sent to the backend
func (x *ReplyRequest) Inputs() map[string]string {
	return map[string]string{
		"phone":                string(x.ConversationID),
		"conversation_history": x.History,
	}
}

// NewReplyRequest builds the augmented request from the message and the
// last HistoryWindow context items.
func NewReplyRequest(text string, items []*ContextItem, id ConversationID) *ReplyRequest {
	return &ReplyRequest{
		Query:          text,
		ConversationID: id,
		UserID:         string(id),
		SessionID:      id.SessionID(),
		History:        FormatHistory(items, HistoryWindow),
	}
}

// FormatHistory renders the n most recent items as "[time] content" lines in
// chronological order. Input order does not matter.
func FormatHistory(items []*ContextItem, n int) string {
	sorted := make([]*ContextItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			sorted = append(sorted, item)
		}
	}
	slices.SortStableFunc(sorted, func(a, b *ContextItem) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	items = sorted
	if len(items) > n {
		items = items[len(items)-n:]
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "["+item.Timestamp.Format(time.RFC3339)+"] "+item.Content)
	}
	return strings.Join(lines, "\n")
}

// FallbackReplies are the fixed apology strings sent when no reply could be generated
type FallbackReplies struct {
	BackendError string `yaml:"backend_error"`
	Unreachable  string `yaml:"unreachable"`
	EmptyAnswer  string `yaml:"empty_answer"`
}

// DefaultFallbackReplies returns the built-in (pt-BR) fallback strings
func DefaultFallbackReplies() FallbackReplies {
	return FallbackReplies{
		BackendError: "Desculpe, ocorreu um erro ao processar sua mensagem.",
		Unreachable:  "Desculpe, não foi possível processar sua mensagem no momento.",
		EmptyAnswer:  "Desculpe, não consegui processar sua mensagem.",
	}
}

// Merge fills empty fields of x with values from base
func (x FallbackReplies) Merge(base FallbackReplies) FallbackReplies {
	if x.BackendError == "" {
		x.BackendError = base.BackendError
	}
	if x.Unreachable == "" {
		x.Unreachable = base.Unreachable
	}
	if x.EmptyAnswer == "" {
		x.EmptyAnswer = base.EmptyAnswer
	}
	return x
}
