package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/policy"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

// Submitter hands an accepted envelope over for background processing
type Submitter interface {
	Submit(env *model.Envelope) error
}

// Result is the acknowledgment of one webhook event
type Result struct {
	Accepted bool
	Reason   string
	Envelope *model.Envelope
}

// UseCase turns webhook events into scheduled envelopes. It does no network
// I/O and returns as soon as the envelope is queued.
type UseCase struct {
	submitter Submitter
	policy    *policy.Ingest
	now       func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithPolicy filters accepted envelopes with an ingest policy
func WithPolicy(p *policy.Ingest) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

// WithClock replaces the receive-time clock
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new ingest UseCase instance
func New(submitter Submitter, opts ...Option) *UseCase {
	uc := &UseCase{
		submitter: submitter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func dropped(reason string) *Result {
	return &Result{Accepted: false, Reason: reason}
}

// Parse converts a raw webhook body into an envelope. A nil envelope with nil
// error means the event is not a user text message and should be dropped;
// the returned string says why.
func (u *UseCase) Parse(body []byte) (*model.Envelope, string, error) {
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, "", goerr.Wrap(model.ErrMalformedEvent, "failed to decode webhook body",
			goerr.V("cause", err.Error()),
			goerr.V("size", len(body)),
		)
	}

	if normalizeEvent(event.Event) != EventMessagesUpsert {
		return nil, "unsupported event: " + event.Event, nil
	}

	data := event.Data
	if data.Key.FromMe {
		return nil, "message sent by this instance", nil
	}

	text := data.Message.text()
	if strings.TrimSpace(text) == "" {
		return nil, "no text content", nil
	}

	id := model.ConversationIDFromJID(data.Key.RemoteJID)
	if id == "" {
		return nil, "", goerr.Wrap(model.ErrMissingConversation, "text message without remoteJid",
			goerr.V("message_id", data.Key.ID),
		)
	}

	receivedAt := u.now()
	timestamp := int64(data.MessageTimestamp) * model.MillisPerSecond
	if timestamp <= 0 {
		timestamp = receivedAt.UnixMilli()
	}

	env := &model.Envelope{
		ConversationID: id,
		Text:           text,
		Timestamp:      timestamp,
		MessageID:      data.Key.ID,
		PushName:       data.PushName,
		ReceivedAt:     receivedAt,
	}
	return env, "", nil
}

// Handle parses, filters and schedules one webhook event
func (u *UseCase) Handle(ctx context.Context, body []byte) (*Result, error) {
	logger := logging.From(ctx)

	env, reason, err := u.Parse(body)
	if err != nil {
		return nil, err
	}
	if env == nil {
		logger.Debug("webhook event dropped", "reason", reason)
		return dropped(reason), nil
	}

	if err := env.Validate(); err != nil {
		logger.Debug("webhook event dropped", "reason", err.Error())
		return dropped(err.Error()), nil
	}

	decision, err := u.policy.Evaluate(ctx, env)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		logger.Info("webhook event denied by policy",
			"conversation_id", env.ConversationID,
			"reason", decision.Reason,
		)
		return dropped(decision.Reason), nil
	}

	if err := u.submitter.Submit(env); err != nil {
		return nil, goerr.Wrap(err, "failed to schedule message", goerr.V("conversation_id", env.ConversationID))
	}

	logger.Info("message accepted",
		"conversation_id", env.ConversationID,
		"message_id", env.MessageID,
	)
	return &Result{Accepted: true, Envelope: env}, nil
}
