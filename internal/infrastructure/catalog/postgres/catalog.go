package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// ConceptCatalog resolves query spans against the concept_terms table, a
// read-only projection of the terminology catalog maintained elsewhere. Each
// matched concept contributes its synonyms and, where present, its code.
type ConceptCatalog struct {
	db            *sql.DB
	maxExpansions int
}

func NewConceptCatalog(db *sql.DB, maxExpansions int) *ConceptCatalog {
	if maxExpansions <= 0 {
		maxExpansions = 8
	}
	return &ConceptCatalog{db: db, maxExpansions: maxExpansions}
}

func (c *ConceptCatalog) Expand(ctx context.Context, span string) ([]ports.ConceptExpansion, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT s.synonym, ct.code_system, ct.code_value
FROM concept_terms ct
JOIN concept_synonyms s ON s.concept_id = ct.concept_id
WHERE ct.term = $1 AND s.synonym <> $1
ORDER BY s.rank ASC
LIMIT $2`, span, c.maxExpansions)
	if err != nil {
		return nil, fmt.Errorf("concept lookup: %w", err)
	}
	defer rows.Close()

	var out []ports.ConceptExpansion
	for rows.Next() {
		var (
			synonym    string
			codeSystem sql.NullString
			codeValue  sql.NullString
		)
		if err := rows.Scan(&synonym, &codeSystem, &codeValue); err != nil {
			return nil, fmt.Errorf("scan concept row: %w", err)
		}
		exp := ports.ConceptExpansion{Term: synonym}
		if codeSystem.Valid && codeValue.Valid {
			exp.Code = &domain.Code{
				System: domain.CodeSystem(codeSystem.String),
				Value:  codeValue.String,
			}
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}
