package pipeline

import (
	"context"

	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

// Send delivers the reply through the gateway without retrying
func (u *UseCase) Send(ctx context.Context, id model.ConversationID, text string) *model.Delivery {
	logger := logging.From(ctx)

	callCtx, cancel := u.withTimeout(ctx)
	defer cancel()

	status, err := u.gateway.SendText(callCtx, id, text)
	if err != nil {
		logger.Error("failed to send message", "error", err, "conversation_id", id, "status", status)
		return &model.Delivery{StatusCode: status, Err: err}
	}

	logger.Info("message sent", "conversation_id", id, "status", status)
	return &model.Delivery{Delivered: true, StatusCode: status}
}
