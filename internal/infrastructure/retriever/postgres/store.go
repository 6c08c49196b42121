package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

// The retrieval_units table is written by the ingestion pipeline; this
// service only reads it.

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return db, nil
}

// UnitStore reads retrieval units and document-local neighborhoods.
type UnitStore struct {
	db *sql.DB
}

func NewUnitStore(db *sql.DB) *UnitStore {
	return &UnitStore{db: db}
}

const unitColumns = `id, document_id, start_char, end_char, facet_type, section, text, embedding, codes`

func (s *UnitStore) GetUnits(ctx context.Context, ids []string) (map[string]domain.RetrievalUnit, error) {
	if len(ids) == 0 {
		return map[string]domain.RetrievalUnit{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT %s FROM retrieval_units WHERE id IN (%s)`,
		unitColumns, strings.Join(placeholders, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.RetrievalUnit, len(ids))
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out[unit.ID] = unit
	}
	return out, rows.Err()
}

func (s *UnitStore) Neighbors(ctx context.Context, documentID string, lo, hi int) ([]domain.RetrievalUnit, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM retrieval_units
		 WHERE document_id = $1 AND end_char > $2 AND start_char < $3
		 ORDER BY start_char ASC`,
		unitColumns,
	)
	rows, err := s.db.QueryContext(ctx, query, documentID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrievalUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

func scanUnit(rows *sql.Rows) (domain.RetrievalUnit, error) {
	var (
		unit          domain.RetrievalUnit
		section       sql.NullString
		embeddingJSON []byte
		codesJSON     []byte
	)
	if err := rows.Scan(
		&unit.ID, &unit.DocumentID, &unit.StartChar, &unit.EndChar,
		&unit.FacetType, &section, &unit.Text, &embeddingJSON, &codesJSON,
	); err != nil {
		return domain.RetrievalUnit{}, fmt.Errorf("scan unit: %w", err)
	}
	unit.Section = section.String
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &unit.Embedding); err != nil {
			return domain.RetrievalUnit{}, fmt.Errorf("decode embedding for %s: %w", unit.ID, err)
		}
	}
	if len(codesJSON) > 0 {
		if err := json.Unmarshal(codesJSON, &unit.Codes); err != nil {
			return domain.RetrievalUnit{}, fmt.Errorf("decode codes for %s: %w", unit.ID, err)
		}
	}
	return unit, nil
}
