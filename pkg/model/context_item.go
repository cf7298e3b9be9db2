package model

import "time"

// DefaultScore is assigned to retrieved items when the store does not rank them
const DefaultScore = 1.0

// ContextItem is one unit of prior memory retrieved for a conversation
type ContextItem struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Score     float64   `json:"relevance"`
}

// Stats summarizes the stored memory of a conversation
type Stats struct {
	Phone              ConversationID `json:"phone"`
	TotalInteractions  int            `json:"total_interactions"`
	RecentInteractions []*ContextItem `json:"recent_interactions"`
}
