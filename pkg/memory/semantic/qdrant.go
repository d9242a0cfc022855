package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elderwise/companion/pkg/memory/embed"
	"github.com/elderwise/companion/pkg/memory/model"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must,omitempty"`
}

type qdrantCondition struct {
	Key   string      `json:"key"`
	Match qdrantMatch `json:"match"`
}

type qdrantMatch struct {
	Value any `json:"value"`
}

// QdrantBackend talks to Qdrant's HTTP API. All entries live in one
// collection; user scoping is done with payload filters.
type QdrantBackend struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// NewQdrantBackend validates the target and creates the collection if
// it does not exist yet.
func NewQdrantBackend(ctx context.Context, baseURL, apiKey, collection string) (*QdrantBackend, error) {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	if collection == "" {
		return nil, errors.New("qdrant collection name is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bad baseURL: %w", err)
	}
	qb := &QdrantBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	if err := qb.createCollection(ctx); err != nil {
		return nil, err
	}
	return qb, nil
}

func (qb *QdrantBackend) createCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{"size": embed.Dimension, "distance": "Cosine"},
	}
	var out json.RawMessage
	err := qb.call(ctx, http.MethodPut, "/collections/"+url.PathEscape(qb.collection), body, &out)
	// Creating an existing collection is fine.
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

func (qb *QdrantBackend) Upsert(ctx context.Context, entry Entry) error {
	body := map[string]any{
		"points": []qdrantPoint{{
			ID:     entry.ID,
			Vector: entry.Vector,
			Payload: map[string]any{
				"user_id":     entry.UserID,
				"content":     entry.Content,
				"tags":        entry.Tags,
				"type":        string(entry.Type),
				"retention":   string(entry.Retention),
				"fragment_id": entry.FragmentID,
				"timestamp":   entry.Timestamp.UTC().Format(time.RFC3339),
			},
		}},
	}
	var out json.RawMessage
	return qb.call(ctx, http.MethodPut, qb.pointsPath("")+"?wait=true", body, &out)
}

func (qb *QdrantBackend) Query(ctx context.Context, userID string, vector []float32, topK int, retention model.Retention) ([]model.MemoryMatch, error) {
	filter := qdrantFilter{Must: []qdrantCondition{
		{Key: "user_id", Match: qdrantMatch{Value: userID}},
	}}
	if retention != "" {
		filter.Must = append(filter.Must, qdrantCondition{Key: "retention", Match: qdrantMatch{Value: string(retention)}})
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"filter":       filter,
		"with_payload": true,
	}
	var points []qdrantScoredPoint
	if err := qb.call(ctx, http.MethodPost, qb.pointsPath("/search"), body, &points); err != nil {
		return nil, err
	}
	matches := make([]model.MemoryMatch, 0, len(points))
	for _, point := range points {
		match := model.MemoryMatch{
			ID:         point.ID,
			Score:      point.Score,
			Content:    model.StringFromAny(point.Payload["content"]),
			Tags:       model.StringsFromAny(point.Payload["tags"]),
			Type:       model.FragmentType(model.StringFromAny(point.Payload["type"])),
			Retention:  model.Retention(model.StringFromAny(point.Payload["retention"])),
			FragmentID: model.StringFromAny(point.Payload["fragment_id"]),
		}
		match.Timestamp = model.TimeFromAny(point.Payload["timestamp"])
		matches = append(matches, match)
	}
	return matches, nil
}

func (qb *QdrantBackend) SetRetention(ctx context.Context, id string, retention model.Retention) (bool, error) {
	// Qdrant silently ignores payload writes to missing points, so
	// check existence first to report skipped entries.
	var points []qdrantPoint
	lookup := map[string]any{"ids": []string{id}, "with_payload": false, "with_vector": false}
	if err := qb.call(ctx, http.MethodPost, qb.pointsPath(""), lookup, &points); err != nil {
		return false, err
	}
	if len(points) == 0 {
		return false, nil
	}
	body := map[string]any{
		"payload": map[string]any{"retention": string(retention)},
		"points":  []string{id},
	}
	var out json.RawMessage
	if err := qb.call(ctx, http.MethodPost, qb.pointsPath("/payload")+"?wait=true", body, &out); err != nil {
		return false, err
	}
	return true, nil
}

func (qb *QdrantBackend) Delete(ctx context.Context, ids []string) error {
	body := map[string]any{"points": ids}
	var out json.RawMessage
	return qb.call(ctx, http.MethodPost, qb.pointsPath("/delete")+"?wait=true", body, &out)
}

func (qb *QdrantBackend) Count(ctx context.Context, userID string, retention model.Retention) (int, error) {
	filter := qdrantFilter{Must: []qdrantCondition{
		{Key: "user_id", Match: qdrantMatch{Value: userID}},
	}}
	if retention != "" {
		filter.Must = append(filter.Must, qdrantCondition{Key: "retention", Match: qdrantMatch{Value: string(retention)}})
	}
	body := map[string]any{"filter": filter, "exact": true}
	var result struct {
		Count int `json:"count"`
	}
	if err := qb.call(ctx, http.MethodPost, qb.pointsPath("/count"), body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (qb *QdrantBackend) Close() error {
	qb.client.CloseIdleConnections()
	return nil
}

func (qb *QdrantBackend) pointsPath(suffix string) string {
	return fmt.Sprintf("/collections/%s/points%s", url.PathEscape(qb.collection), suffix)
}

func (qb *QdrantBackend) call(ctx context.Context, method, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, qb.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if qb.apiKey != "" {
		// Either header works; sending both covers deployments with either check.
		req.Header.Set("api-key", qb.apiKey)
		req.Header.Set("Authorization", "Bearer "+qb.apiKey)
	}

	resp, err := qb.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var env qdrantEnvelope[json.RawMessage]
	_ = json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if env.Status.Error != "" {
			return errors.New(env.Status.Error)
		}
		return fmt.Errorf("qdrant error: http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}
