package repository

import (
	"context"

	"github.com/m-mizutani/recollect/pkg/model"
)

// Repository is the temporal memory store. Implementations are shared by all
// in-flight pipeline runs and must be safe for concurrent use.
type Repository interface {
	// BuildIndices creates indices and constraints required by the store.
	// Called once at startup; a failure is fatal.
	BuildIndices(ctx context.Context) error

	// SearchEpisodes returns at most limit items relevant to query within the
	// conversation, in the store's ranking order
	SearchEpisodes(ctx context.Context, id model.ConversationID, query string, limit int) ([]*model.ContextItem, error)

	// PutEpisode appends an episode. Putting an episode whose name already
	// exists must not create a second one.
	PutEpisode(ctx context.Context, episode *model.Episode) error

	// Close releases the underlying driver
	Close(ctx context.Context) error
}
