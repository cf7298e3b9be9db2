package pipeline

import (
	"context"
	"errors"

	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

// Generate asks the reply backend for an answer. It always returns
// displayable text: on failure the text is a fallback apology and Kind tells
// which failure happened.
func (u *UseCase) Generate(ctx context.Context, text string, items []*model.ContextItem, id model.ConversationID) *model.Reply {
	logger := logging.From(ctx)
	req := model.NewReplyRequest(text, items, id)

	callCtx, cancel := u.withTimeout(ctx)
	defer cancel()

	answer, err := u.generator.Generate(callCtx, req)
	if err == nil {
		logger.Info("reply generated", "conversation_id", id)
		return &model.Reply{Text: answer, Kind: model.ReplyGenerated}
	}

	reply := &model.Reply{Err: err}
	switch {
	case errors.Is(err, model.ErrEmptyAnswer):
		reply.Kind = model.ReplyFallbackEmptyAnswer
		reply.Text = u.fallback.EmptyAnswer
	case errors.Is(err, model.ErrBackendStatus):
		reply.Kind = model.ReplyFallbackBackendError
		reply.Text = u.fallback.BackendError
	default:
		reply.Kind = model.ReplyFallbackUnreachable
		reply.Text = u.fallback.Unreachable
	}

	logger.Error("reply backend failed, using fallback",
		"error", err,
		"conversation_id", id,
		"kind", reply.Kind,
	)
	return reply
}
