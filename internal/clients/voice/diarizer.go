package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
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

// Utterance is one diarized span with an anonymous speaker tag.
type Utterance struct {
	SpeakerTag string `json:"speaker_tag"`
	StartMs    int    `json:"start_ms"`
	EndMs      int    `json:"end_ms"`
	Text       string `json:"text"`
}

func (u Utterance) DurationMs() int {
	d := u.EndMs - u.StartMs
	if d < 0 {
		return 0
	}
	return d
}

// Diarizer labels an audio file's speech with anonymous speaker tags.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]Utterance, error)
}

type diarizerClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func NewDiarizer(log *logger.Logger) (Diarizer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("VOICE_DIARIZER_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var VOICE_DIARIZER_URL")
	}
	return &diarizerClient{
		log:        log.With("service", "VoiceDiarizer"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("VOICE_DIARIZER_API_KEY")),
		httpClient: &http.Client{Timeout: envutil.DurationSec("VOICE_DIARIZER_TIMEOUT_SECONDS", 300*time.Second)},
		maxRetries: envutil.Int("VOICE_DIARIZER_MAX_RETRIES", 3),
	}, nil
}

type diarizeResponse struct {
	Utterances []Utterance `json:"utterances"`
}

func (c *diarizerClient) Diarize(ctx context.Context, audioPath string) ([]Utterance, error) {
	ctx = ctxutil.Default(ctx)

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, apperr.E(apperr.KindCancelled, "diarizer.diarize", ctx.Err())
		}
		utts, retryable, err := c.doOnce(ctx, audioPath)
		if err == nil {
			return utts, nil
		}
		lastErr = err
		if !retryable || attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperr.E(apperr.KindCancelled, "diarizer.diarize", ctx.Err())
		case <-time.After(httpx.JitterSleep(backoff)):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *diarizerClient) doOnce(ctx context.Context, audioPath string) ([]Utterance, bool, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, false, apperr.E(apperr.KindInputMalformed, "diarizer.diarize", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, false, fmt.Errorf("create multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, false, fmt.Errorf("copy audio into multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, false, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/diarize", &body)
	if err != nil {
		return nil, false, fmt.Errorf("build diarize request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httpx.IsRetryableError(err), apperr.E(apperr.KindTransientExternal, "diarizer.diarize", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, apperr.E(apperr.KindTransientExternal, "diarizer.diarize", err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := &httpx.StatusError{Status: resp.StatusCode}
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, true, apperr.E(apperr.KindTransientExternal, "diarizer.diarize", statusErr)
		}
		return nil, false, apperr.E(apperr.KindPermanentExternal, "diarizer.diarize", statusErr)
	}

	var parsed diarizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, apperr.E(apperr.KindInputMalformed, "diarizer.diarize", err)
	}
	for i, u := range parsed.Utterances {
		if strings.TrimSpace(u.SpeakerTag) == "" {
			return nil, false, apperr.E(apperr.KindInputMalformed, "diarizer.diarize",
				fmt.Errorf("utterance %d missing speaker tag", i))
		}
	}
	return parsed.Utterances, false, nil
}
