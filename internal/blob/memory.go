package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Client used in tests and local development.
//
// It deliberately mimics the awkward parts of the real service: every Put
// appends a new physical version under a fresh URL instead of overwriting,
// so List can return several objects for the same key until the store layer
// collapses them. It is injected at construction like any other Client.
type Memory struct {
	mu      sync.Mutex
	objects []memObject
	seq     int

	// now is swappable so tests can control UploadedAt ordering.
	now func() time.Time
}

type memObject struct {
	obj  Object
	body []byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the timestamp source for subsequent Puts.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Put appends a new physical version of key.
func (m *Memory) Put(_ context.Context, key string, body []byte) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	obj := Object{
		Key:        key,
		URL:        fmt.Sprintf("mem://%s#%d", key, m.seq),
		Size:       int64(len(body)),
		UploadedAt: m.now(),
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects = append(m.objects, memObject{obj: obj, body: stored})
	return obj, nil
}

// List returns all physical versions under prefix, oldest first.
func (m *Memory) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Object
	for _, o := range m.objects {
		if strings.HasPrefix(o.obj.Key, prefix) {
			out = append(out, o.obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

// Fetch returns the body stored at url.
func (m *Memory) Fetch(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.objects {
		if o.obj.URL == url {
			body := make([]byte, len(o.body))
			copy(body, o.body)
			return body, nil
		}
	}
	return nil, ErrObjectNotFound
}

// Delete removes the single physical version at url.
func (m *Memory) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, o := range m.objects {
		if o.obj.URL == url {
			m.objects = append(m.objects[:i], m.objects[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports the number of physical objects currently stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
