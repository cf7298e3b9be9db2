package model

import "time"

type RetrievalKind string

const (
	RetrievalOK          RetrievalKind = "ok"
	RetrievalEmpty       RetrievalKind = "empty"
	RetrievalUnavailable RetrievalKind = "unavailable"
)

// Retrieval is the result of context retrieval. Items is never nil.
type Retrieval struct {
	Items []*ContextItem
	Kind  RetrievalKind
	Err   error
}

type ReplyKind string

const (
	ReplyGenerated            ReplyKind = "generated"
	ReplyFallbackBackendError ReplyKind = "fallback_backend_error"
	ReplyFallbackUnreachable  ReplyKind = "fallback_unreachable"
	ReplyFallbackEmptyAnswer  ReplyKind = "fallback_empty_answer"
)

// Reply always carries displayable text, even when Kind is a fallback
type Reply struct {
	Text string
	Kind ReplyKind
	Err  error
}

// Degraded reports whether the text is a fallback apology
func (x *Reply) Degraded() bool {
	return x.Kind != ReplyGenerated
}

type Delivery struct {
	Delivered  bool
	StatusCode int
	Err        error
}

type RecordingKind string

const (
	RecordingStored  RecordingKind = "stored"
	RecordingSkipped RecordingKind = "skipped"
	RecordingFailed  RecordingKind = "failed"
)

type Recording struct {
	Kind        RecordingKind
	EpisodeName string
	Err         error
}

// RunReport describes what happened in one pipeline run
type RunReport struct {
	Envelope  *Envelope
	Retrieval *Retrieval
	Reply     *Reply
	Delivery  *Delivery
	Recording *Recording
	Duration  time.Duration
}
