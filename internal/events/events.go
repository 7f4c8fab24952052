package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type 表示事件类型。
type Type string

const (
	// TypeCellPainted 在单个格子被涂色后发布。
	TypeCellPainted Type = "cell.painted"
	// TypeAdPlaced 在广告投放写入账本后发布。
	TypeAdPlaced Type = "ad.placed"
	// TypeImageGenerated 在图片生成并保存后发布。
	TypeImageGenerated Type = "image.generated"
)

// Event 是事件总线上传输的消息。
type Event struct {
	ID   string          `json:"id"`
	Type Type            `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New 构造事件并序列化负载。
func New(typ Type, data any) (Event, error) {
	evt := Event{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		evt.Data = raw
	}
	return evt, nil
}

// Publisher 负责把事件投递到具体的传输介质。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Handler 处理订阅到的事件。
type Handler func(ctx context.Context, evt Event) error

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }

// Multi 把事件依次投递给多个 Publisher，错误会被合并返回。
type Multi []Publisher

// Publish 实现 Publisher。
func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 实现 Publisher。
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Publisher = Nop{}
	_ Publisher = Multi(nil)
)
