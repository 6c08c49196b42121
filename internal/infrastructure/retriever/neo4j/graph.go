package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/resilience"
)

// GraphRetriever walks the concept graph outward from codes resolved in the
// query and collects the units mentioning related concepts. It only fires for
// queries that carry at least one deterministic code; free-text queries have
// no graph entry point.
type GraphRetriever struct {
	driver   neo4j.DriverWithContext
	maxHops  int
	executor *resilience.Executor
}

func NewGraphRetriever(uri, user, password string, maxHops int, executor *resilience.Executor) (*GraphRetriever, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if maxHops <= 0 || maxHops > 3 {
		maxHops = 2
	}
	return &GraphRetriever{driver: driver, maxHops: maxHops, executor: executor}, nil
}

func (r *GraphRetriever) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *GraphRetriever) Name() string { return "graph" }

func (r *GraphRetriever) Search(ctx context.Context, query domain.Query, topK int) ([]domain.ScoredUnit, error) {
	if len(query.Codes) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(query.Codes))
	for _, code := range query.Codes {
		codes = append(codes, fmt.Sprintf("%s:%s", code.System, code.Value))
	}

	// Path length cannot be parameterized in Cypher, so the hop bound is
	// formatted in; it is validated at construction.
	cypher := fmt.Sprintf(`
MATCH (c:Concept)
WHERE c.system + ':' + c.value IN $codes
MATCH (c)-[:RELATES_TO*1..%d]-(related:Concept)
MATCH (related)<-[m:MENTIONS]-(u:Unit)
RETURN u.id AS unit_id, sum(m.weight) AS score
ORDER BY score DESC, unit_id ASC
LIMIT $limit`, r.maxHops)

	params := map[string]any{
		"codes": codes,
		"limit": topK,
	}

	var out []domain.ScoredUnit
	call := func(ctx context.Context) error {
		session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			out = out[:0]
			for result.Next(ctx) {
				record := result.Record()
				unitID, _ := record.Get("unit_id")
				score, _ := record.Get("score")
				id, ok := unitID.(string)
				if !ok || id == "" {
					continue
				}
				out = append(out, domain.ScoredUnit{UnitID: id, Score: toFloat(score)})
			}
			return nil, result.Err()
		})
		return err
	}

	var err error
	if r.executor != nil {
		err = r.executor.Execute(ctx, "neo4j.graph", call, resilience.ClassifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("graph traversal: %w", err)
	}
	return out, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}
