package events

import (
	"context"
	"errors"
	"sync"
)

// Hub 是进程内的扇出总线，查看器的 SSE 流从这里订阅。
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
	closed bool
}

// NewHub 创建内存总线，buffer 为每个订阅者的缓冲大小。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish 将事件投递给所有订阅者。订阅者缓冲已满时丢弃该事件，不阻塞发布方。
func (h *Hub) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errors.New("事件总线已关闭")
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe 注册订阅者，返回事件通道和取消函数。
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers 返回当前订阅者数量。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭所有订阅通道。
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	return nil
}

var _ Publisher = (*Hub)(nil)
