package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/envutil"
	"github.com/orderlens/orderlens-backend/internal/platform/httpx"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// Reasoner is the text-reasoning capability behind transaction extraction
// and grading. Usage counters feed the per-grade gpt_price computation.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error)
}

type CompleteOptions struct {
	Effort string // "low" | "medium" | "high"; empty uses the client default
	// WantReasoningSummary asks the model for a short summary of its own
	// reasoning, surfaced in Completion.ReasoningSummary.
	WantReasoningSummary bool
}

type Completion struct {
	Text             string
	ReasoningSummary string
	InputTokens      int
	OutputTokens     int
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	effort     string
	httpClient *http.Client
	maxRetries int
}

func NewReasoner(log *logger.Logger) (Reasoner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(envutil.String("OPENAI_BASE_URL", "https://api.openai.com"), "/")
	model := envutil.String("OPENAI_MODEL", "gpt-5.2")
	effort := envutil.String("OPENAI_REASONING_EFFORT", "medium")
	timeout := envutil.DurationSec("OPENAI_TIMEOUT_SECONDS", 300*time.Second)
	maxRetries := envutil.Int("OPENAI_MAX_RETRIES", 4)

	return &client{
		log:        log.With("service", "Reasoner"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		effort:     effort,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}, nil
}

type responsesRequest struct {
	Model     string             `json:"model"`
	Input     string             `json:"input"`
	Reasoning *reasoningSettings `json:"reasoning,omitempty"`
}

type reasoningSettings struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Summary []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"summary"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *client) Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.ErrInvalidArgument
	}

	effort := opts.Effort
	if effort == "" {
		effort = c.effort
	}
	reqBody := responsesRequest{
		Model: c.model,
		Input: prompt,
		Reasoning: &reasoningSettings{
			Effort: effort,
		},
	}
	if opts.WantReasoningSummary {
		reqBody.Reasoning.Summary = "auto"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, apperr.E(apperr.KindCancelled, "reasoner.complete", ctx.Err())
		}
		out, retryable, err := c.doOnce(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable || attempt == c.maxRetries {
			break
		}
		c.log.Warn("reasoner call failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, apperr.E(apperr.KindCancelled, "reasoner.complete", ctx.Err())
		case <-time.After(httpx.JitterSleep(backoff)):
		}
		backoff *= 2
		if backoff > 15*time.Second {
			backoff = 15 * time.Second
		}
	}
	return nil, lastErr
}

func (c *client) doOnce(ctx context.Context, payload []byte) (*Completion, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build responses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httpx.IsRetryableError(err), apperr.E(apperr.KindTransientExternal, "reasoner.complete", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, apperr.E(apperr.KindTransientExternal, "reasoner.complete", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &httpx.StatusError{Status: resp.StatusCode, Body: truncate(string(body), 300)}
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, true, apperr.E(apperr.KindTransientExternal, "reasoner.complete", statusErr)
		}
		return nil, false, apperr.E(apperr.KindPermanentExternal, "reasoner.complete", statusErr)
	}

	var parsed responsesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, apperr.E(apperr.KindInputMalformed, "reasoner.complete", fmt.Errorf("parse responses body: %w", err))
	}
	if parsed.Error != nil {
		return nil, false, apperr.E(apperr.KindPermanentExternal, "reasoner.complete", fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	out := &Completion{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" {
					text.WriteString(content.Text)
				}
			}
		case "reasoning":
			for _, sum := range item.Summary {
				if out.ReasoningSummary != "" {
					out.ReasoningSummary += "\n"
				}
				out.ReasoningSummary += sum.Text
			}
		}
	}
	out.Text = text.String()
	return out, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
