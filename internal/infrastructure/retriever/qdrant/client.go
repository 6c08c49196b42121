package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
)

// Client is a thin HTTP client for the Qdrant search API. Collections are
// created and populated by the ingestion pipeline; this client only queries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) postJSON(ctx context.Context, path string, reqBody any, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if trimmed := strings.TrimSpace(string(msg)); trimmed != "" {
			return fmt.Errorf("qdrant status %s: %s", resp.Status, trimmed)
		}
		return fmt.Errorf("qdrant status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// payloadFilter translates retrieval filters into a Qdrant payload filter.
// Date bounds are indexed as epoch days on the unit payload.
func payloadFilter(filters domain.Filters) map[string]any {
	var must []map[string]any
	if filters.FacetType != "" {
		must = append(must, map[string]any{
			"key":   "facet_type",
			"match": map[string]any{"value": filters.FacetType},
		})
	}
	if filters.Source != "" {
		must = append(must, map[string]any{
			"key":   "source",
			"match": map[string]any{"value": filters.Source},
		})
	}
	dateRange := map[string]any{}
	if !filters.DateFrom.IsZero() {
		dateRange["gte"] = filters.DateFrom.Unix() / 86400
	}
	if !filters.DateTo.IsZero() {
		dateRange["lte"] = filters.DateTo.Unix() / 86400
	}
	if len(dateRange) > 0 {
		must = append(must, map[string]any{"key": "published_day", "range": dateRange})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

type searchHit struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func hitsToUnits(hits []searchHit, minScore float64) []domain.ScoredUnit {
	out := make([]domain.ScoredUnit, 0, len(hits))
	for _, h := range hits {
		unitID, _ := h.Payload["unit_id"].(string)
		if unitID == "" {
			continue
		}
		if minScore > 0 && h.Score < minScore {
			continue
		}
		out = append(out, domain.ScoredUnit{UnitID: unitID, Score: h.Score})
	}
	return out
}
