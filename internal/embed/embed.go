// Package embed wraps the Voyage AI embeddings endpoint behind a
// batch-preferring Embed/EmbedBatch surface (§4.7, C8), following the
// same provider-wrapper shape internal/llm.Client uses for chat
// completion — one small HTTP client type, a single request builder,
// a single response-shape struct.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dim is this pipeline's fixed embedding width, matching the Neo4j
// vector index's declared dimension (internal/graph.EnsureConstraints).
const Dim = 1024

const defaultEndpoint = "https://api.voyageai.com/v1/embeddings"
const defaultModel = "voyage-3-lite"

// Client calls the Voyage embeddings API.
type Client struct {
	apiKey   string
	endpoint string
	model    string
	http     *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// IsEnabled reports whether an API key was configured.
func (c *Client) IsEnabled() bool { return c.apiKey != "" }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed embeds a single text. It falls through to EmbedBatch with a
// batch of one, per §4.7.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("voyage returned no embeddings")
	}
	return vecs[0], nil
}

// EmbedBatch is the preferred entry point: one request for up to len(texts)
// inputs, response re-ordered by the API's own index field so callers
// can trust positional alignment with the input slice.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.IsEnabled() {
		return nil, fmt.Errorf("embed client not enabled: VOYAGE_API_KEY not set")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read voyage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voyage returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal voyage response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			continue
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
