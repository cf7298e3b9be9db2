package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionConversations = "conversations"
	collectionEpisodes      = "episodes"
)

// Firestore stores episodes under conversations/{id}/episodes/{name}.
// It has no text ranking: search returns the most recent episodes with the
// default score.
type Firestore struct {
	client *firestore.Client
}

type firestoreEpisode struct {
	ID                string    `firestore:"id"`
	Name              string    `firestore:"name"`
	ConversationID    string    `firestore:"conversation_id"`
	Content           string    `firestore:"content"`
	Source            string    `firestore:"source"`
	SourceDescription string    `firestore:"source_description"`
	ValidAt           time.Time `firestore:"valid_at"`
	CreatedAt         time.Time `firestore:"created_at"`
}

// NewFirestore creates a Firestore repository for the given project and database
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) episodes(id model.ConversationID) *firestore.CollectionRef {
	return r.client.Collection(collectionConversations).Doc(string(id)).Collection(collectionEpisodes)
}

// BuildIndices checks that the database is reachable. Single field indices
// used by SearchEpisodes are created by Firestore automatically.
func (r *Firestore) BuildIndices(ctx context.Context) error {
	iter := r.client.Collection(collectionConversations).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return goerr.Wrap(err, "failed to access firestore")
	}
	return nil
}

func (r *Firestore) SearchEpisodes(ctx context.Context, id model.ConversationID, query string, limit int) ([]*model.ContextItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	iter := r.episodes(id).OrderBy("valid_at", firestore.Desc).Limit(limit).Documents(ctx)
	defer iter.Stop()

	items := []*model.ContextItem{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate episodes", goerr.V("conversation_id", id))
		}

		var ep firestoreEpisode
		if err := doc.DataTo(&ep); err != nil {
			return nil, goerr.Wrap(err, "failed to decode episode", goerr.V("doc", doc.Ref.ID))
		}

		items = append(items, &model.ContextItem{
			Timestamp: ep.CreatedAt,
			Content:   ep.Content,
			Score:     model.DefaultScore,
		})
	}

	return items, nil
}

func (r *Firestore) PutEpisode(ctx context.Context, episode *model.Episode) error {
	doc := &firestoreEpisode{
		ID:                string(episode.ID),
		Name:              episode.Name,
		ConversationID:    string(episode.ConversationID),
		Content:           episode.Body,
		Source:            episode.Source,
		SourceDescription: episode.SourceDescription,
		ValidAt:           episode.ReferenceTime,
		CreatedAt:         episode.CreatedAt,
	}

	// Create fails on an existing name, which keeps replays from overwriting
	if _, err := r.episodes(episode.ConversationID).Doc(episode.Name).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return goerr.Wrap(err, "failed to put episode",
			goerr.V("conversation_id", episode.ConversationID),
			goerr.V("name", episode.Name))
	}

	return nil
}

func (r *Firestore) Close(ctx context.Context) error {
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}
