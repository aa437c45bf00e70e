package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

const (
	ModeGCS      = "gcs"
	ModeEmulator = "emulator"
)

// Service is the object store every pipeline stage writes through. Keys are
// built by the generators in keys.go; callers never hand-assemble paths.
type Service interface {
	UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error
	UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	PresignedGetURL(key string, ttl time.Duration) (string, error)
	PresignedPutURL(key string, ttl time.Duration) (string, error)
	PublicURL(key string) string
	Bucket() string
}

type signedEntry struct {
	url     string
	expires time.Time
}

type service struct {
	log           *logger.Logger
	client        *storage.Client
	bucket        string
	mode          string
	emulatorHost  string
	publicBaseURL string
	presignTTL    time.Duration

	signWarnOnce sync.Once

	mu     sync.RWMutex
	signed map[string]signedEntry
}

func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Service, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeGCS
	}

	serviceLog := log.With("service", "ObjectStore")

	var client *storage.Client
	var err error
	emulatorHost := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
	switch mode {
	case ModeGCS:
		opts := clientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		client, err = storage.NewClient(ctx, opts...)
	case ModeEmulator:
		if emulatorHost == "" {
			return nil, fmt.Errorf("storage mode %q requires emulator_host", mode)
		}
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)
		client, err = storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, fmt.Errorf("unknown storage mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	presignTTL := cfg.PresignTTL.Duration
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}

	serviceLog.Info("Object storage initialized",
		"mode", mode,
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"emulator_host", emulatorHost,
		"public_base_url", publicBaseURL,
		"presign_ttl", presignTTL.String(),
	)

	return &service{
		log:           serviceLog,
		client:        client,
		bucket:        cfg.Bucket,
		mode:          mode,
		emulatorHost:  emulatorHost,
		publicBaseURL: publicBaseURL,
		presignTTL:    presignTTL,
		signed:        make(map[string]signedEntry),
	}, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (s *service) Bucket() string { return s.bucket }

func (s *service) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	return s.UploadStream(ctx, key, bytes.NewReader(data), contentType)
}

func (s *service) UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	if contentType != "" {
		w.ContentType = contentType
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

// readCloserWithCancel ties the download context's cancel to Close so the
// reader stays valid after Download returns. Cancelling earlier would make
// callers read zero bytes.
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

func (s *service) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *service) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}

func (s *service) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	return true, nil
}

// Delete is idempotent: removing a key that is already gone succeeds.
func (s *service) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *service) PresignedGetURL(key string, ttl time.Duration) (string, error) {
	return s.presign(http.MethodGet, key, ttl)
}

func (s *service) PresignedPutURL(key string, ttl time.Duration) (string, error) {
	return s.presign(http.MethodPut, key, ttl)
}

func (s *service) presign(method, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.presignTTL
	}
	if method == http.MethodGet {
		if u, ok := s.cachedSigned(key); ok {
			return u, nil
		}
	}
	if s.mode == ModeEmulator {
		return s.unsignedURL(method, key), nil
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		// Local runs without a service account cannot sign. Hand back the
		// public form so manifests stay readable, and say so once.
		s.signWarnOnce.Do(func() {
			s.log.Warn("URL signing unavailable, using public object URLs", "error", err)
		})
		return s.unsignedURL(method, key), nil
	}
	if method == http.MethodGet {
		s.storeSigned(key, u, ttl)
	}
	return u, nil
}

func (s *service) unsignedURL(method, key string) string {
	if method == http.MethodPut && s.mode == ModeEmulator {
		return fmt.Sprintf("%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
			s.emulatorBase(), url.PathEscape(s.bucket), url.QueryEscape(key))
	}
	return s.PublicURL(key)
}

func (s *service) emulatorBase() string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL
	}
	return s.emulatorHost
}

func (s *service) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.mode == ModeEmulator {
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
			s.emulatorBase(), url.PathEscape(s.bucket), url.PathEscape(key))
	}
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

const signedCacheMax = 4096

func (s *service) cachedSigned(key string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.signed[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	// One minute floor: never hand out a URL about to expire.
	if time.Until(entry.expires) < time.Minute {
		return "", false
	}
	return entry.url, true
}

func (s *service) storeSigned(key, u string, ttl time.Duration) {
	s.mu.Lock()
	if len(s.signed) >= signedCacheMax {
		s.signed = make(map[string]signedEntry)
	}
	s.signed[key] = signedEntry{url: u, expires: time.Now().Add(ttl)}
	s.mu.Unlock()
}
