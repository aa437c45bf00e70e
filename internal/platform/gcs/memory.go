package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

type memObject struct {
	data        []byte
	contentType string
}

// Memory implements Service entirely in process. Tests and bucketless
// development runs use it in place of a live client; missing keys
// surface the same storage.ErrObjectNotExist sentinel.
type Memory struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemory(bucket string) *Memory {
	if bucket == "" {
		bucket = "darkroom-memory"
	}
	return &Memory{bucket: bucket, objects: make(map[string]memObject)}
}

func (m *Memory) Bucket() string { return m.bucket }

func (m *Memory) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[key] = memObject{data: cp, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stream for %q: %w", key, err)
	}
	return m.UploadBuffer(ctx, key, data, contentType)
}

func (m *Memory) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := m.DownloadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open reader for %q: %w", key, storage.ErrObjectNotExist)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PresignedGetURL(key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("%s?sig=get&ttl=%d", m.PublicURL(key), int(ttl.Seconds())), nil
}

func (m *Memory) PresignedPutURL(key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("%s?sig=put&ttl=%d", m.PublicURL(key), int(ttl.Seconds())), nil
}

func (m *Memory) PublicURL(key string) string {
	return fmt.Sprintf("memory://%s/%s", m.bucket, key)
}

// Keys lists stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ContentType reports the stored content type for key, or "" when the
// key does not exist.
func (m *Memory) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
