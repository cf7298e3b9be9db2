package pipeline

import (
	"context"
	"fmt"

	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

// ContextQuery builds the search query used to look up a conversation's memory
func ContextQuery(id model.ConversationID) string {
	return fmt.Sprintf("user %s conversations", id)
}

// Retrieve returns at most limit context items for the conversation. A store
// failure yields an empty result of kind RetrievalUnavailable, never an error.
func (u *UseCase) Retrieve(ctx context.Context, id model.ConversationID, limit int) *model.Retrieval {
	if limit <= 0 {
		limit = u.contextLimit
	}
	logger := logging.From(ctx)

	callCtx, cancel := u.withTimeout(ctx)
	defer cancel()

	items, err := u.repo.SearchEpisodes(callCtx, id, ContextQuery(id), limit)
	if err != nil {
		logger.Error("failed to retrieve context", "error", err, "conversation_id", id)
		return &model.Retrieval{
			Items: []*model.ContextItem{},
			Kind:  model.RetrievalUnavailable,
			Err:   err,
		}
	}

	result := make([]*model.ContextItem, 0, min(len(items), limit))
	for _, item := range items {
		if len(result) >= limit {
			break
		}
		if item == nil {
			continue
		}
		result = append(result, item)
	}

	logger.Info("retrieved context", "conversation_id", id, "count", len(result))

	kind := model.RetrievalOK
	if len(result) == 0 {
		kind = model.RetrievalEmpty
	}
	return &model.Retrieval{Items: result, Kind: kind}
}
