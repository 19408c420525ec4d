package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// BlobStore holds session artifacts (segments.jsonl, transactions.jsonl,
// grades.jsonl) and raw recordings under deriv/session=<run_id>/ keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	PutStream(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) ([]byte, error)
	// PutJSONL writes one JSON object per line. Records marshal in order so
	// the artifact is byte-for-byte reproducible for identical inputs.
	PutJSONL(ctx context.Context, key string, records []interface{}) error
	PublicURL(key string) string
}

type blobStore struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
	baseURL    string
}

func NewBlobStore(log *logger.Logger) (BlobStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "BlobStore")

	bucketName := strings.TrimSpace(os.Getenv("DERIV_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var DERIV_GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com"
	}

	slog.Info("Blob store initialized", "bucket", bucketName)
	return &blobStore{
		log:        slog,
		client:     client,
		bucketName: bucketName,
		baseURL:    baseURL,
	}, nil
}

func (b *blobStore) Put(ctx context.Context, key string, data []byte) error {
	return b.PutStream(ctx, key, strings.NewReader(string(data)))
}

func (b *blobStore) PutStream(ctx context.Context, key string, r io.Reader) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.bucketName).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", key, err)
	}
	return nil
}

func (b *blobStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	rc, err := b.client.Bucket(b.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}

func (b *blobStore) PutJSONL(ctx context.Context, key string, records []interface{}) error {
	var sb strings.Builder
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal jsonl record: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return b.Put(ctx, key, []byte(sb.String()))
}

func (b *blobStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", b.baseURL, b.bucketName, key)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(s, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".jsonl"):
		return "application/x-ndjson"
	default:
		return ""
	}
}
