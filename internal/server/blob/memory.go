package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Memory is an in-process backend used by tests and the development mode.
// The OnDelete hook, when set, lets tests inject per-key storage failures.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject

	OnDelete func(key string) error
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: opts.ContentType}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, key string) (DeleteStatus, error) {
	if m.OnDelete != nil {
		if err := m.OnDelete(key); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return NotFound, nil
	}
	delete(m.objects, key)
	return Deleted, nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *Memory) SignUpload(key string, expiresIn time.Duration) (string, error) {
	return "", ErrUnsupported
}

func (m *Memory) SignDownload(key string, expiresIn time.Duration) (string, error) {
	return "", ErrUnsupported
}
