package pipeline

import (
	"context"

	"github.com/m-mizutani/recollect/pkg/model"
)

const (
	statsLimit  = 100
	statsRecent = 5
)

// Stats summarizes the stored memory of a conversation. The total is bounded
// by the size of one retrieval (100 items).
func (u *UseCase) Stats(ctx context.Context, id model.ConversationID) *model.Stats {
	r := u.Retrieve(ctx, id, statsLimit)

	recent := r.Items
	if len(recent) > statsRecent {
		recent = recent[:statsRecent]
	}

	return &model.Stats{
		Phone:              id,
		TotalInteractions:  len(r.Items),
		RecentInteractions: recent,
	}
}
