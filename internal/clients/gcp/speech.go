package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/envutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// ASR turns normalized mono 16 kHz PCM WAV bytes into text.
type ASR interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Close() error
}

type speechService struct {
	log        *logger.Logger
	client     *speech.Client
	model      string
	language   string
	timeout    time.Duration
	maxRetries int
}

func NewSpeech(log *logger.Logger) (ASR, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Speech")

	ctx := context.Background()
	opts := ClientOptionsFromEnv()

	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &speechService{
		log:        slog,
		client:     c,
		model:      envutil.String("SPEECH_MODEL", "phone_call"),
		language:   envutil.String("SPEECH_LANGUAGE", "en-US"),
		timeout:    envutil.DurationSec("SPEECH_TIMEOUT_SECONDS", 300*time.Second),
		maxRetries: 4,
	}, nil
}

func (s *speechService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *speechService) Transcribe(ctx context.Context, wav []byte) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(wav) == 0 {
		return "", nil
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               s.language,
			Model:                      s.model,
			UseEnhanced:                true,
			EnableAutomaticPunctuation: true,
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wav},
		},
	}

	resp, err := s.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("speech longrunningrecognize: %w", err)
	}

	var full strings.Builder
	for _, r := range resp.GetResults() {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		txt := strings.TrimSpace(r.Alternatives[0].Transcript)
		if txt == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(txt)
	}
	return strings.TrimSpace(full.String()), nil
}

func (s *speechService) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, apperr.E(apperr.KindCancelled, "speech.transcribe", ctx.Err())
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, apperr.E(apperr.KindPermanentExternal, "speech.transcribe", err)
		}
		if attempt == s.maxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, apperr.E(apperr.KindTransientExternal, "speech.transcribe", last)
}
