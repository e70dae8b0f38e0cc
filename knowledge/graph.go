package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SourceStat is one content source's contribution to a cached index.
type SourceStat struct {
	SourceID   string
	SourceType string
	ChunkCount int
}

// SyncIndex records the provenance of a freshly built index: which quiz and
// scope it was built for and which sources fed it. The graph is advisory
// (used for introspection), so callers treat failures as warnings.
func SyncIndex(ctx context.Context, driver neo4j.DriverWithContext, keyHash string, quizID int64, scope, selector string, stats []SourceStat) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (i:QuizIndex {key: $key})
			SET i.quiz_id = $quiz_id,
			    i.scope = $scope,
			    i.source_selector = $selector,
			    i.updated_at = datetime()
		`, map[string]any{
			"key":      keyHash,
			"quiz_id":  quizID,
			"scope":    scope,
			"selector": selector,
		}); err != nil {
			return nil, fmt.Errorf("upsert index node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (i:QuizIndex {key: $key})-[r:HAS_SOURCE]->(:Source)
			DELETE r
		`, map[string]any{"key": keyHash}); err != nil {
			return nil, fmt.Errorf("clear stale source relations: %w", err)
		}

		for _, stat := range stats {
			if _, err := tx.Run(ctx, `
				MATCH (i:QuizIndex {key: $key})
				MERGE (s:Source {id: $source_id})
				SET s.type = $source_type
				MERGE (i)-[r:HAS_SOURCE]->(s)
				SET r.chunks = $chunks
			`, map[string]any{
				"key":         keyHash,
				"source_id":   stat.SourceID,
				"source_type": stat.SourceType,
				"chunks":      stat.ChunkCount,
			}); err != nil {
				return nil, fmt.Errorf("upsert source %s: %w", stat.SourceID, err)
			}
		}

		return nil, nil
	})

	return err
}

// IndexInsights returns the per-source breakdown previously recorded for a
// cached index, in descending chunk-count order.
func IndexInsights(ctx context.Context, driver neo4j.DriverWithContext, keyHash string) ([]SourceStat, error) {
	if driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (i:QuizIndex {key: $key})-[r:HAS_SOURCE]->(s:Source)
			RETURN s.id AS id, s.type AS type, r.chunks AS chunks
			ORDER BY r.chunks DESC
		`, map[string]any{"key": keyHash})
		if err != nil {
			return nil, err
		}

		stats := make([]SourceStat, 0)
		for result.Next(ctx) {
			record := result.Record()
			stat := SourceStat{}
			if id, ok := record.Get("id"); ok {
				stat.SourceID, _ = id.(string)
			}
			if sourceType, ok := record.Get("type"); ok {
				stat.SourceType, _ = sourceType.(string)
			}
			if chunks, ok := record.Get("chunks"); ok {
				if count, isInt := chunks.(int64); isInt {
					stat.ChunkCount = int(count)
				}
			}
			stats = append(stats, stat)
		}
		return stats, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query index insights: %w", err)
	}

	return records.([]SourceStat), nil
}
