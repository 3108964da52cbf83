package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-transcribe/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/logger"
)

// ArtifactStore is the durable object store for finalized transcripts.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// SignedURL returns a time-limited GET URL and its expiry. The URL is
	// never cached; each call signs a new one.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

type artifactStore struct {
	log           *logger.Logger
	client        *storage.Client
	http          *http.Client
	bucket        string
	mode          ObjectStorageMode
	emulatorHost  string
	publicBaseURL string
	now           func() time.Time
}

func NewArtifactStore(log *logger.Logger, bucket string, cfg ObjectStorageConfig) (ArtifactStore, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("missing env var TRANSCRIBE_BUCKET")
	}
	slog := log.With("service", "gcp.ArtifactStore")

	st := &artifactStore{
		log:           slog,
		http:          &http.Client{Timeout: 2 * time.Minute},
		bucket:        bucket,
		mode:          cfg.Mode,
		emulatorHost:  cfg.EmulatorHost,
		publicBaseURL: cfg.PublicBaseURL,
		now:           time.Now,
	}
	if !cfg.IsEmulatorMode() {
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		c, err := storage.NewClient(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		st.client = c
	}

	slog.Info(
		"Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"bucket", bucket,
	)
	return st, nil
}

func (s *artifactStore) isEmulatorMode() bool {
	return s.mode == ObjectStorageModeGCSEmulator && s.emulatorHost != ""
}

func (s *artifactStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	defer cancel()
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("object key required")
	}
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}

	if s.isEmulatorMode() {
		u := fmt.Sprintf(
			"%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
			s.emulatorHost, url.PathEscape(s.bucket), url.QueryEscape(key),
		)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed creating emulator upload request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed emulator upload request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("emulator upload failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *artifactStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()
	key = strings.TrimLeft(strings.TrimSpace(key), "/")

	if s.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.emulatorObjectMetaURL(key), nil)
		if err != nil {
			return false, fmt.Errorf("failed creating emulator attrs request: %w", err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return false, fmt.Errorf("failed emulator attrs request: %w", err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNotFound:
			return false, nil
		case http.StatusOK:
			return true, nil
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return false, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return true, nil
}

func (s *artifactStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	// The context must outlive this call; cancel runs on Close.
	ctx2, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	key = strings.TrimLeft(strings.TrimSpace(key), "/")

	if s.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMediaURL(s.emulatorHost, key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *artifactStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", time.Time{}, errors.New("object key required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	expires := s.now().UTC().Add(ttl)

	// fake-gcs cannot verify signatures; hand out the plain media URL.
	if s.isEmulatorMode() {
		base := s.publicBaseURL
		if base == "" {
			base = s.emulatorHost
		}
		return s.emulatorObjectMediaURL(base, key), expires, nil
	}

	u, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign GCS url: %w", err)
	}
	return u, expires, nil
}

func (s *artifactStore) emulatorObjectMediaURL(base, key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(base, "/"),
		url.PathEscape(s.bucket),
		url.PathEscape(key),
	)
}

func (s *artifactStore) emulatorObjectMetaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		s.emulatorHost,
		url.PathEscape(s.bucket),
		url.PathEscape(key),
	)
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(s, ".vtt"):
		return "text/vtt"
	default:
		return ""
	}
}
