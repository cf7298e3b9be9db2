package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EpisodeSourceMessage = "message"
)

type EpisodeID string

// NewEpisodeID generates a new unique EpisodeID
func NewEpisodeID() EpisodeID {
	return EpisodeID(uuid.New().String())
}

// Episode is an immutable record of one completed exchange. Episodes are
// append-only: nothing in this module updates or deletes them.
type Episode struct {
	ID                EpisodeID
	Name              string
	ConversationID    ConversationID
	Body              string
	Source            string
	SourceDescription string
	ReferenceTime     time.Time
	CreatedAt         time.Time
}

// EpisodeName derives a unique episode name from the conversation and the
// wall-clock time at record time.
func EpisodeName(id ConversationID, now time.Time) string {
	return fmt.Sprintf("whatsapp_conversation_%s_%d", id, now.UnixNano())
}

// NewEpisode builds the episode for a delivered exchange
func NewEpisode(id ConversationID, userText, replyText string, referenceTime, now time.Time) *Episode {
	return &Episode{
		ID:                NewEpisodeID(),
		Name:              EpisodeName(id, now),
		ConversationID:    id,
		Body:              fmt.Sprintf("User (%s): %s\nBot: %s", id, userText, replyText),
		Source:            EpisodeSourceMessage,
		SourceDescription: fmt.Sprintf("WhatsApp conversation with %s", id),
		ReferenceTime:     referenceTime,
		CreatedAt:         now,
	}
}

// ContextItem converts the episode into a retrieval item with default score
func (x *Episode) ContextItem() *ContextItem {
	return &ContextItem{
		Timestamp: x.CreatedAt,
		Content:   x.Body,
		Score:     DefaultScore,
	}
}
