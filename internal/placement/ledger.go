package placement

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/events"
	"PixelBoard/internal/grid"
	"PixelBoard/pkg/logger"
)

const (
	// MinSide 是广告边长下限。
	MinSide = 10
	// MaxSide 是广告边长上限。
	MaxSide = 100
	// Alignment 是广告坐标与尺寸的对齐单位。
	Alignment = 10
	// PlaceholderColor 是广告区域在网格上的占位颜色。
	PlaceholderColor = "#CCCCCC"
	// DefaultOwner 用于未声明所有者的请求。
	DefaultOwner = "anonymous"
)

// ImageRegistry 是账本对图片服务的最小依赖。
type ImageRegistry interface {
	// Available 判断图片存在且尚未被其他投放使用。
	Available(ctx context.Context, id string) (bool, error)
	// Consume 将图片标记为已被指定投放使用，已使用时返回 UNKNOWN_IMAGE。
	Consume(ctx context.Context, id, placementID string) error
}

// Request 描述一次广告投放请求。
type Request struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	ImageID string `json:"imageId"`
	Link    string `json:"link"`
	Title   string `json:"title"`
	Owner   string `json:"owner"`
}

// Rect 返回请求对应的矩形。
func (r Request) Rect() grid.Rect {
	return grid.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// Placement 是写入账本后的不可变记录。
type Placement struct {
	ID           string      `json:"id"`
	Owner        string      `json:"owner"`
	X            int         `json:"x"`
	Y            int         `json:"y"`
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	PixelCount   int         `json:"pixelCount"`
	NewPixels    int         `json:"newPixels"`
	TotalCost    grid.Amount `json:"totalCostAtomic"`
	TotalCostUSD string      `json:"totalCostUsd"`
	ImageID      string      `json:"imageId"`
	Link         string      `json:"link"`
	Title        string      `json:"title"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Ledger 记录广告投放，并把投放区域写入网格。
type Ledger struct {
	mu         sync.Mutex
	store      *grid.Store
	images     ImageRegistry
	publisher  events.Publisher
	placements []Placement
	index      map[string]int
	newID      func() string
	now        func() time.Time
}

// Option 定义账本的可选配置。
type Option func(*Ledger)

// WithPublisher 设置事件发布者。
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithIDGenerator 替换投放 ID 生成器。
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger 创建投放账本。
func NewLedger(store *grid.Store, images ImageRegistry, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		images:    images,
		publisher: events.Nop{},
		index:     make(map[string]int),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Price 返回投放请求的总价，不做校验。
func (l *Ledger) Price(req Request) grid.Amount {
	return l.store.UnitPrice().Mul(req.Width * req.Height)
}

// CheckSize 按 TOO_SMALL、TOO_LARGE、MISALIGNED 的顺序校验广告尺寸。
func CheckSize(width, height int) error {
	dims := []struct {
		field string
		value int
	}{{"width", width}, {"height", height}}

	for _, d := range dims {
		if d.value < MinSide {
			return xerrors.New(xerrors.CodeTooSmall,
				fmt.Sprintf("%s must be at least %d", d.field, MinSide),
				xerrors.WithField(d.field), xerrors.WithLimit(MinSide), xerrors.WithValue(d.value))
		}
	}
	for _, d := range dims {
		if d.value > MaxSide {
			return xerrors.New(xerrors.CodeTooLarge,
				fmt.Sprintf("%s must be at most %d", d.field, MaxSide),
				xerrors.WithField(d.field), xerrors.WithLimit(MaxSide), xerrors.WithValue(d.value))
		}
	}
	for _, d := range dims {
		if d.value%Alignment != 0 {
			return xerrors.New(xerrors.CodeMisaligned,
				fmt.Sprintf("%s must be a multiple of %d", d.field, Alignment),
				xerrors.WithField(d.field), xerrors.WithLimit(Alignment), xerrors.WithValue(d.value))
		}
	}
	return nil
}

// Validate 执行与 PlaceAd 相同的校验但不产生副作用，支付网关在收款前调用。
func (l *Ledger) Validate(ctx context.Context, req Request) error {
	if err := CheckSize(req.Width, req.Height); err != nil {
		return err
	}
	if err := l.checkBounds(req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ImageID) == "" {
		return xerrors.New(xerrors.CodeUnknownImage, "imageId is required", xerrors.WithField("imageId"))
	}
	ok, err := l.images.Available(ctx, req.ImageID)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.New(xerrors.CodeUnknownImage,
			fmt.Sprintf("image %s does not exist or is already placed", req.ImageID),
			xerrors.WithField("imageId"), xerrors.WithValue(req.ImageID))
	}
	if err := checkLink(req.Link); err != nil {
		return err
	}
	if strings.TrimSpace(req.Title) == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "title must not be empty", xerrors.WithField("title"))
	}
	return nil
}

func (l *Ledger) checkBounds(req Request) error {
	if req.X < 0 || req.X > l.store.Width()-req.Width {
		return xerrors.New(xerrors.CodeOutOfBounds,
			fmt.Sprintf("x must be within [0, %d] for width %d", l.store.Width()-req.Width, req.Width),
			xerrors.WithField("x"), xerrors.WithLimit(l.store.Width()-req.Width), xerrors.WithValue(req.X))
	}
	if req.Y < 0 || req.Y > l.store.Height()-req.Height {
		return xerrors.New(xerrors.CodeOutOfBounds,
			fmt.Sprintf("y must be within [0, %d] for height %d", l.store.Height()-req.Height, req.Height),
			xerrors.WithField("y"), xerrors.WithLimit(l.store.Height()-req.Height), xerrors.WithValue(req.Y))
	}
	return nil
}

func checkLink(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "link must not be empty", xerrors.WithField("link"))
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "link must be an absolute http(s) URL",
			xerrors.WithField("link"), xerrors.WithValue(link))
	}
	return nil
}

// PlaceAd 校验请求，占用图片，把矩形写入网格并追加账本记录。
func (l *Ledger) PlaceAd(ctx context.Context, req Request) (Placement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Validate(ctx, req); err != nil {
		return Placement{}, err
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = DefaultOwner
	}

	id := l.newID()
	newPixels, err := l.store.PaintRect(req.Rect(), PlaceholderColor, owner, id)
	if err != nil {
		return Placement{}, err
	}
	if err := l.images.Consume(ctx, req.ImageID, id); err != nil {
		return Placement{}, err
	}

	pixelCount := req.Width * req.Height
	cost := l.store.UnitPrice().Mul(pixelCount)
	p := Placement{
		ID:           id,
		Owner:        owner,
		X:            req.X,
		Y:            req.Y,
		Width:        req.Width,
		Height:       req.Height,
		PixelCount:   pixelCount,
		NewPixels:    newPixels,
		TotalCost:    cost,
		TotalCostUSD: cost.USD(),
		ImageID:      req.ImageID,
		Link:         strings.TrimSpace(req.Link),
		Title:        strings.TrimSpace(req.Title),
		CreatedAt:    l.now().UTC(),
	}
	l.index[id] = len(l.placements)
	l.placements = append(l.placements, p)

	logger.Audit().Info("广告投放已记录",
		"placement_id", p.ID,
		"owner", p.Owner,
		"rect", fmt.Sprintf("%d,%d %dx%d", p.X, p.Y, p.Width, p.Height),
		"new_pixels", newPixels,
		"total_cost", cost.Atomic())

	if evt, err := events.New(events.TypeAdPlaced, p); err == nil {
		if err := l.publisher.Publish(ctx, evt); err != nil {
			logger.L().Warn("发布投放事件失败", "placement_id", p.ID, "error", err)
		}
	}
	return p, nil
}

// ListPlacements 按创建顺序返回所有投放。
func (l *Ledger) ListPlacements() []Placement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Placement, len(l.placements))
	copy(out, l.placements)
	return out
}

// Get 按 ID 查询投放。
func (l *Ledger) Get(id string) (Placement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.index[id]
	if !ok {
		return Placement{}, false
	}
	return l.placements[idx], true
}

// Count 返回投放数量。
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.placements)
}
