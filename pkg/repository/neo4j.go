package repository

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
)

const fulltextIndexName = "episodic_content"

var neo4jSchema = []string{
	`CREATE CONSTRAINT episodic_name IF NOT EXISTS FOR (e:Episodic) REQUIRE e.name IS UNIQUE`,
	`CREATE CONSTRAINT conversation_id IF NOT EXISTS FOR (c:Conversation) REQUIRE c.id IS UNIQUE`,
	`CREATE INDEX episodic_group_id IF NOT EXISTS FOR (e:Episodic) ON (e.group_id)`,
	`CREATE INDEX episodic_valid_at IF NOT EXISTS FOR (e:Episodic) ON (e.valid_at)`,
	`CREATE FULLTEXT INDEX ` + fulltextIndexName + ` IF NOT EXISTS FOR (e:Episodic) ON EACH [e.content, e.source_description]`,
}

// Neo4j stores episodes as Episodic nodes linked from a Conversation node
type Neo4j struct {
	driver   neo4j.Driver
	database string
}

type Neo4jOption func(*Neo4j)

// WithDatabase selects a database other than the server default
func WithDatabase(name string) Neo4jOption {
	return func(r *Neo4j) {
		r.database = name
	}
}

// NewNeo4j connects to Neo4j and verifies connectivity
func NewNeo4j(ctx context.Context, uri, user, password string, opts ...Neo4jOption) (*Neo4j, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create neo4j driver", goerr.V("uri", uri))
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, goerr.Wrap(err, "failed to connect to neo4j", goerr.V("uri", uri))
	}

	r := &Neo4j{driver: driver}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Neo4j) session(ctx context.Context, mode neo4j.AccessMode) neo4j.Session {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
}

func (r *Neo4j) BuildIndices(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range neo4jSchema {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return goerr.Wrap(err, "failed to run schema statement", goerr.V("statement", stmt))
		}
		if _, err := res.Consume(ctx); err != nil {
			return goerr.Wrap(err, "failed to apply schema statement", goerr.V("statement", stmt))
		}
	}

	return nil
}

func (r *Neo4j) SearchEpisodes(ctx context.Context, id model.ConversationID, query string, limit int) ([]*model.ContextItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		items, err := collectItems(ctx, tx, `
			CALL db.index.fulltext.queryNodes($index, $query) YIELD node, score
			WHERE node.group_id = $group_id
			RETURN node AS e, score
			ORDER BY score DESC, e.valid_at DESC
			LIMIT $limit
		`, map[string]any{
			"index":    fulltextIndexName,
			"query":    escapeLucene(query),
			"group_id": string(id),
			"limit":    limit,
		})
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}

		// Nothing matched the text query: fall back to recency
		return collectItems(ctx, tx, `
			MATCH (:Conversation {id: $group_id})-[:HAS_EPISODE]->(e:Episodic)
			RETURN e, null AS score
			ORDER BY e.valid_at DESC
			LIMIT $limit
		`, map[string]any{
			"group_id": string(id),
			"limit":    limit,
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search episodes", goerr.V("conversation_id", id))
	}

	return result.([]*model.ContextItem), nil
}

func collectItems(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]*model.ContextItem, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	items := []*model.ContextItem{}
	for res.Next(ctx) {
		record := res.Record()
		raw, _ := record.Get("e")
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}

		item := &model.ContextItem{
			Timestamp: propTime(node.Props["created_at"]),
			Score:     model.DefaultScore,
		}
		if content, ok := node.Props["content"].(string); ok {
			item.Content = content
		}
		if score, ok := record.Get("score"); ok {
			if f, ok := score.(float64); ok {
				item.Score = f
			}
		}
		items = append(items, item)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func propTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func (r *Neo4j) PutEpisode(ctx context.Context, episode *model.Episode) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (c:Conversation {id: $group_id})
				ON CREATE SET c.created_at = $created_at
			MERGE (e:Episodic {name: $name})
				ON CREATE SET e.uuid = $uuid,
					e.group_id = $group_id,
					e.content = $content,
					e.source = $source,
					e.source_description = $source_description,
					e.created_at = $created_at,
					e.valid_at = $valid_at
			MERGE (c)-[:HAS_EPISODE]->(e)
		`, map[string]any{
			"uuid":               string(episode.ID),
			"name":               episode.Name,
			"group_id":           string(episode.ConversationID),
			"content":            episode.Body,
			"source":             episode.Source,
			"source_description": episode.SourceDescription,
			"created_at":         episode.CreatedAt.UTC(),
			"valid_at":           episode.ReferenceTime.UTC(),
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put episode",
			goerr.V("conversation_id", episode.ConversationID),
			goerr.V("name", episode.Name))
	}

	return nil
}

func (r *Neo4j) Close(ctx context.Context) error {
	if err := r.driver.Close(ctx); err != nil {
		return goerr.Wrap(err, "failed to close neo4j driver")
	}
	return nil
}

var luceneReplacer = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `!`, `\!`, `(`, `\(`, `)`, `\)`,
	`:`, `\:`, `^`, `\^`, `[`, `\[`, `]`, `\]`, `"`, `\"`, `{`, `\{`,
	`}`, `\}`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `&`, `\&`, `/`, `\/`,
)

// escapeLucene quotes query syntax characters so that free text is searched literally
func escapeLucene(s string) string {
	return luceneReplacer.Replace(s)
}
