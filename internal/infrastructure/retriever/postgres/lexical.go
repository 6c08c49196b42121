package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/infrastructure/resilience"
)

// FieldWeights maps the tsvector weight classes used at indexing time
// (D=body, C=section text, B=section heading, A=document title) to ranking
// weights.
type FieldWeights struct {
	Body    float64
	Section float64
	Heading float64
	Title   float64
}

func DefaultFieldWeights() FieldWeights {
	return FieldWeights{Body: 0.4, Section: 0.6, Heading: 0.8, Title: 1.0}
}

// LexicalRetriever ranks units with Postgres full-text search over the
// weighted tsvector column maintained by the ingestion pipeline.
type LexicalRetriever struct {
	db       *sql.DB
	weights  FieldWeights
	executor *resilience.Executor
}

func NewLexicalRetriever(db *sql.DB, weights FieldWeights, executor *resilience.Executor) *LexicalRetriever {
	if weights == (FieldWeights{}) {
		weights = DefaultFieldWeights()
	}
	return &LexicalRetriever{db: db, weights: weights, executor: executor}
}

func (r *LexicalRetriever) Name() string { return "lexical" }

func (r *LexicalRetriever) Search(ctx context.Context, query domain.Query, topK int) ([]domain.ScoredUnit, error) {
	tsquery := buildTSQuery(query)
	if tsquery == "" {
		return nil, nil
	}

	sqlQuery, args := r.buildSQL(tsquery, query.Filters, topK)

	var out []domain.ScoredUnit
	call := func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var unit domain.ScoredUnit
			if err := rows.Scan(&unit.UnitID, &unit.Score); err != nil {
				return fmt.Errorf("scan lexical hit: %w", err)
			}
			if query.Filters.MinScore > 0 && unit.Score < query.Filters.MinScore {
				continue
			}
			out = append(out, unit)
		}
		return rows.Err()
	}

	if r.executor != nil {
		if err := r.executor.Execute(ctx, "postgres.lexical", call, resilience.ClassifyBackendError); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := call(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LexicalRetriever) buildSQL(tsquery string, filters domain.Filters, topK int) (string, []any) {
	args := []any{
		fmt.Sprintf("{%g, %g, %g, %g}", r.weights.Body, r.weights.Section, r.weights.Heading, r.weights.Title),
		tsquery,
	}
	var b strings.Builder
	b.WriteString(`SELECT id, ts_rank_cd($1::float4[], tsv, to_tsquery('english', $2)) AS score
FROM retrieval_units
WHERE tsv @@ to_tsquery('english', $2)`)

	if filters.FacetType != "" {
		args = append(args, filters.FacetType)
		fmt.Fprintf(&b, " AND facet_type = $%d", len(args))
	}
	if filters.Source != "" {
		args = append(args, filters.Source)
		fmt.Fprintf(&b, " AND source = $%d", len(args))
	}
	if !filters.DateFrom.IsZero() {
		args = append(args, filters.DateFrom)
		fmt.Fprintf(&b, " AND published_at >= $%d", len(args))
	}
	if !filters.DateTo.IsZero() {
		args = append(args, filters.DateTo)
		fmt.Fprintf(&b, " AND published_at <= $%d", len(args))
	}

	args = append(args, topK)
	fmt.Fprintf(&b, " ORDER BY score DESC, id ASC LIMIT $%d", len(args))
	return b.String(), args
}

// buildTSQuery renders the query's term classes into tsquery syntax: must
// phrases joined by &, should terms by |, negatives as & !term. Expansion
// terms from the concept catalog land in the should group.
func buildTSQuery(query domain.Query) string {
	var groups []string

	for _, phrase := range query.MustTerms {
		words := strings.Fields(sanitizeTSTerm(phrase))
		if len(words) > 0 {
			groups = append(groups, "("+strings.Join(words, " <-> ")+")")
		}
	}

	should := make([]string, 0, len(query.ShouldTerms)+len(query.ExpansionTerms))
	for _, term := range append(append([]string{}, query.ShouldTerms...), query.ExpansionTerms...) {
		term = sanitizeTSTerm(term)
		if term != "" {
			should = append(should, strings.Join(strings.Fields(term), " <-> "))
		}
	}
	if len(should) > 0 {
		groups = append(groups, "("+strings.Join(should, " | ")+")")
	}

	for _, term := range query.NegativeTerms {
		term = sanitizeTSTerm(term)
		if term != "" && !strings.ContainsAny(term, " ") {
			groups = append(groups, "!"+term)
		}
	}

	return strings.Join(groups, " & ")
}

func sanitizeTSTerm(term string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '&', '|', '!', '(', ')', ':', '\'', '<', '>':
			return -1
		}
		return r
	}, term)
}
