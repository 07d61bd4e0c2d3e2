package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Embedder turns texts into fixed-dimension vectors. Implementations must
// return one vector per input, in input order, and never partial results.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

type httpEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	maxBatch   int
	expectDim  int
	limiter    *rate.Limiter
	retryDelay time.Duration
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// NewHTTPEmbedderFromEnv builds the OpenAI-compatible embedding client from
// EMBEDDING_* environment variables.
func NewHTTPEmbedderFromEnv() (Embedder, error) {
	apiKey := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("knowledge: embedding API key is required")
	}

	baseURL := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("knowledge: invalid embedding base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL_ID"))
	if modelID == "" {
		modelID = "text-embedding-3-small"
	}

	maxBatch := 16
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_MAX_BATCH")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxBatch = parsed
		}
	}

	expectDim := 0
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_VECTOR_DIM")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			expectDim = parsed
		}
	}

	// Provider rate limit is enforced between batches, not per item.
	batchesPerSecond := 2.0
	if raw := strings.TrimSpace(os.Getenv("EMBEDDING_BATCHES_PER_SECOND")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			batchesPerSecond = parsed
		}
	}

	return &httpEmbedder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    modelID,
		maxBatch:   maxBatch,
		expectDim:  expectDim,
		limiter:    rate.NewLimiter(rate.Limit(batchesPerSecond), 1),
		retryDelay: 500 * time.Millisecond,
	}, nil
}

func (e *httpEmbedder) Model() string {
	return e.modelID
}

// Embed splits inputs into provider-capped batches, runs them sequentially
// under the rate limiter, and returns vectors in input order.
func (e *httpEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	for i, input := range inputs {
		if strings.TrimSpace(input) == "" {
			return nil, validationErr("embedding input %d is empty", i)
		}
	}

	vectors := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(inputs) {
			end = len(inputs)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		batch, err := e.embedBatch(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embedBatch calls the provider once, retrying a single time with backoff.
func (e *httpEmbedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors, err := e.callProvider(ctx, inputs)
	if err == nil {
		return vectors, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	timer := time.NewTimer(e.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}
	return e.callProvider(ctx, inputs)
}

func (e *httpEmbedder) callProvider(ctx context.Context, inputs []string) ([][]float32, error) {
	payload := embeddingRequest{Model: e.modelID, Input: inputs}
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("knowledge: encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("knowledge: build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, providerErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, providerErr(fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, providerErr(fmt.Errorf("decode embedding response: %w", err))
	}
	if len(parsed.Data) != len(inputs) {
		return nil, providerErr(fmt.Errorf("embedding count mismatch (expected %d, got %d)", len(inputs), len(parsed.Data)))
	}

	// Responses are re-sorted by index so output order never depends on
	// provider response order.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vectors := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		if e.expectDim > 0 && len(item.Embedding) != e.expectDim {
			return nil, providerErr(fmt.Errorf("embedding dimension mismatch (expected %d, got %d)", e.expectDim, len(item.Embedding)))
		}
		vector := make([]float32, len(item.Embedding))
		for j, value := range item.Embedding {
			vector[j] = float32(value)
		}
		vectors[i] = vector
	}
	return vectors, nil
}
