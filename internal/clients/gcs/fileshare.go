package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// FileShare is the logical folder+name file surface the pipeline consumes
// for transaction clips and worker voice samples. Backed by a GCS bucket
// where "folders" are key prefixes; the object name doubles as the stable
// file id.
type FileShare interface {
	ListFolders(ctx context.Context) ([]string, error)
	ListFolder(ctx context.Context, folder string) ([]FileInfo, error)
	Download(ctx context.Context, id string, localPath string) error
	Upload(ctx context.Context, localPath string, folder string, fileName string) (FileRef, error)
}

type FileInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
}

type FileRef struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

type fileShare struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
	baseURL    string
}

func NewFileShare(log *logger.Logger) (FileShare, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "FileShare")

	bucketName := strings.TrimSpace(os.Getenv("SHARE_GCS_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var SHARE_GCS_BUCKET_NAME")
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

	slog.Info("File share initialized", "bucket", bucketName)
	return &fileShare{
		log:        slog,
		client:     client,
		bucketName: bucketName,
		baseURL:    baseURL,
	}, nil
}

func (fs *fileShare) ListFolders(ctx context.Context) ([]string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := fs.client.Bucket(fs.bucketName).Objects(ctx, &storage.Query{Delimiter: "/"})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		if attrs.Prefix != "" {
			out = append(out, strings.TrimSuffix(attrs.Prefix, "/"))
		}
	}
	return out, nil
}

func (fs *fileShare) ListFolder(ctx context.Context, folder string) ([]FileInfo, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prefix := strings.TrimSuffix(folder, "/") + "/"
	it := fs.client.Bucket(fs.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []FileInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list folder %q: %w", folder, err)
		}
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		out = append(out, FileInfo{
			ID:   attrs.Name,
			Name: path.Base(attrs.Name),
			Size: attrs.Size,
			Mime: attrs.ContentType,
		})
	}
	return out, nil
}

func (fs *fileShare) Download(ctx context.Context, id string, localPath string) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for download: %w", err)
	}
	rc, err := fs.client.Bucket(fs.bucketName).Object(id).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open share object %q: %w", id, err)
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("download %q: %w", id, err)
	}
	return nil
}

func (fs *fileShare) Upload(ctx context.Context, localPath string, folder string, fileName string) (FileRef, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return FileRef{}, fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()

	key := strings.TrimSuffix(folder, "/") + "/" + fileName
	w := fs.client.Bucket(fs.bucketName).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(fileName); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return FileRef{}, fmt.Errorf("upload %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return FileRef{}, fmt.Errorf("close writer for %q: %w", key, err)
	}

	return FileRef{
		ID:   key,
		Link: fmt.Sprintf("%s/%s/%s", fs.baseURL, fs.bucketName, key),
	}, nil
}
