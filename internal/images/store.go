package images

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound 表示存储中没有该图片。
var ErrNotFound = errors.New("image not found")

// Image 是生成图片的元数据。
type Image struct {
	ID            string    `json:"id"`
	Prompt        string    `json:"prompt"`
	RevisedPrompt string    `json:"revisedPrompt,omitempty"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	ContentType   string    `json:"contentType"`
	Size          int       `json:"size"`
	Generator     string    `json:"generator"`
	CreatedAt     time.Time `json:"createdAt"`
	ConsumedBy    string    `json:"consumedBy,omitempty"`
}

// Store 持久化图片字节与元数据。
type Store interface {
	Save(ctx context.Context, img Image, data []byte) error
	Load(ctx context.Context, id string) (Image, []byte, error)
	Stat(ctx context.Context, id string) (Image, error)
	Close() error
}

// MemoryStore 把图片保存在进程内存中。
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string]memoryEntry
}

type memoryEntry struct {
	meta Image
	data []byte
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string]memoryEntry)}
}

// Save 实现 Store。
func (m *MemoryStore) Save(_ context.Context, img Image, data []byte) error {
	if img.ID == "" {
		return errors.New("图片 ID 不能为空")
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	m.mu.Lock()
	m.images[img.ID] = memoryEntry{meta: img, data: clone}
	m.mu.Unlock()
	return nil
}

// Load 实现 Store。
func (m *MemoryStore) Load(_ context.Context, id string) (Image, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.images[id]
	if !ok {
		return Image{}, nil, ErrNotFound
	}
	return entry.meta, entry.data, nil
}

// Stat 实现 Store。
func (m *MemoryStore) Stat(_ context.Context, id string) (Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.images[id]
	if !ok {
		return Image{}, ErrNotFound
	}
	return entry.meta, nil
}

// Close 实现 Store。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
