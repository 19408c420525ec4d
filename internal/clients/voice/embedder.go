package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/envutil"
	"github.com/orderlens/orderlens-backend/internal/platform/httpx"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

const EmbeddingDim = 192

// Embedder computes a fixed-dimension unit voice embedding for a wav file.
type Embedder interface {
	Embed(ctx context.Context, wavPath string) ([]float32, error)
}

type embedderClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewEmbedder(log *logger.Logger) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("VOICE_EMBEDDER_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var VOICE_EMBEDDER_URL")
	}
	return &embedderClient{
		log:        log.With("service", "VoiceEmbedder"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("VOICE_EMBEDDER_API_KEY")),
		httpClient: &http.Client{Timeout: envutil.DurationSec("VOICE_EMBEDDER_TIMEOUT_SECONDS", 120*time.Second)},
		maxRetries: envutil.Int("VOICE_EMBEDDER_MAX_RETRIES", 3),
	}, nil
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *embedderClient) Embed(ctx context.Context, wavPath string) ([]float32, error) {
	ctx = ctxutil.Default(ctx)

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, apperr.E(apperr.KindCancelled, "embedder.embed", ctx.Err())
		}
		vec, retryable, err := c.doOnce(ctx, wavPath)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retryable || attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperr.E(apperr.KindCancelled, "embedder.embed", ctx.Err())
		case <-time.After(httpx.JitterSleep(backoff)):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *embedderClient) doOnce(ctx context.Context, wavPath string) ([]float32, bool, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, false, apperr.E(apperr.KindInputMalformed, "embedder.embed", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, false, fmt.Errorf("create multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, false, fmt.Errorf("copy wav into multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, false, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", &body)
	if err != nil {
		return nil, false, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httpx.IsRetryableError(err), apperr.E(apperr.KindTransientExternal, "embedder.embed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, apperr.E(apperr.KindTransientExternal, "embedder.embed", err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := &httpx.StatusError{Status: resp.StatusCode}
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, true, apperr.E(apperr.KindTransientExternal, "embedder.embed", statusErr)
		}
		return nil, false, apperr.E(apperr.KindPermanentExternal, "embedder.embed", statusErr)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, apperr.E(apperr.KindInputMalformed, "embedder.embed", err)
	}
	if len(parsed.Embedding) != EmbeddingDim {
		return nil, false, apperr.E(apperr.KindInputMalformed, "embedder.embed",
			fmt.Errorf("embedding dim %d, want %d", len(parsed.Embedding), EmbeddingDim))
	}
	return Normalize(parsed.Embedding), false, nil
}

// Normalize returns v scaled to unit length. Zero vectors pass through.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
