package pipeline

import (
	"context"
	"time"

	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

// Record stores the exchange as a new episode. Failures are logged and
// reported in the result, never returned to the caller.
func (u *UseCase) Record(ctx context.Context, id model.ConversationID, userText, replyText string, timestamp time.Time) *model.Recording {
	logger := logging.From(ctx)
	episode := model.NewEpisode(id, userText, replyText, timestamp, u.now())

	callCtx, cancel := u.withTimeout(ctx)
	defer cancel()

	if err := u.repo.PutEpisode(callCtx, episode); err != nil {
		logger.Error("failed to store interaction", "error", err, "conversation_id", id, "episode", episode.Name)
		return &model.Recording{
			Kind:        model.RecordingFailed,
			EpisodeName: episode.Name,
			Err:         err,
		}
	}

	logger.Info("stored interaction", "conversation_id", id, "episode", episode.Name)
	return &model.Recording{Kind: model.RecordingStored, EpisodeName: episode.Name}
}
