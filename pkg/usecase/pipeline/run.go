package pipeline

import (
	"context"
	"time"

	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

// Run executes retrieve, generate, send and record in order. The exchange is
// recorded only when delivery succeeded, so undelivered replies never enter
// the memory store.
func (u *UseCase) Run(ctx context.Context, env *model.Envelope) *model.RunReport {
	started := u.now()
	logger := logging.From(ctx).With(
		"conversation_id", env.ConversationID,
		"message_id", env.MessageID,
	)
	ctx = logging.With(ctx, logger)
	logger.Info("processing message", "length", len(env.Text))

	report := &model.RunReport{Envelope: env}

	report.Retrieval = u.Retrieve(ctx, env.ConversationID, u.contextLimit)
	report.Reply = u.Generate(ctx, env.Text, report.Retrieval.Items, env.ConversationID)
	report.Delivery = u.Send(ctx, env.ConversationID, report.Reply.Text)

	if report.Delivery.Delivered {
		report.Recording = u.Record(ctx, env.ConversationID, env.Text, report.Reply.Text, env.Time())
	} else {
		report.Recording = &model.Recording{Kind: model.RecordingSkipped}
	}

	report.Duration = u.now().Sub(started)
	logger.Info("message handled",
		"retrieval", report.Retrieval.Kind,
		"reply", report.Reply.Kind,
		"delivered", report.Delivery.Delivered,
		"recording", report.Recording.Kind,
		"duration", report.Duration.Round(time.Millisecond),
	)

	return report
}
