// Package embedding implements the Embedding Pipeline (§4.5): a client for
// the external vector service contract (embed(list<string>) -> list<vector>)
// with retry/backoff, and a bounded worker pool that enriches newly logged
// episodes with embeddings without the unbounded fire-and-forget dispatch
// the original service used (§9 redesign).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Config describes the external embedding service instance Remembr talks
// to. APIKey is encrypted at rest (see internal/storage.EmbeddingServiceConfig).
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxRetries int
}

// Client calls the embedding service's single contract endpoint.
type Client struct {
	http   *retryablehttp.Client
	config Config
}

// NewClient builds a Client with exponential backoff + jitter, capped at
// config.MaxRetries attempts (default 3 per §4.5).
func NewClient(config Config) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = config.MaxRetries - 1 // RetryMax counts retries after the first attempt
	rc.Logger = nil                     // the pool logs outcomes at the call site via zap
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		if wait <= 0 {
			return wait
		}
		return wait + time.Duration(rand.Int63n(int64(wait)/2+1))
	}

	return &Client{http: rc, config: config}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates a vector for a single text, returning the vector and its
// dimensionality.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, int, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	if len(vectors) == 0 {
		return nil, 0, fmt.Errorf("embedding: service returned no vectors")
	}
	return vectors[0], len(vectors[0]), nil
}

// EmbedBatch generates vectors for multiple texts in a single round trip.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: c.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed after retries: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding: service returned status %d", resp.StatusCode)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	out := make([][]float32, len(decoded.Data))
	for i, d := range decoded.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
