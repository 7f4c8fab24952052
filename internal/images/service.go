package images

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"PixelBoard/internal/circuitbreaker"
	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/events"
	"PixelBoard/internal/imagegen"
	"PixelBoard/internal/observability/metrics"
	"PixelBoard/pkg/logger"
)

const (
	// MinSide 是生成图片的最小边长。
	MinSide = 10
	// Alignment 是生成图片尺寸的对齐单位。
	Alignment = 10
	// MaxPromptLength 限制提示词长度。
	MaxPromptLength = 1000
	defaultTimeout  = 2 * time.Minute
)

// Service 负责生成、保存与查询图片，并跟踪每张图片是否已被投放占用。
type Service struct {
	store     Store
	generator imagegen.Generator
	breaker   *circuitbreaker.Breaker
	publisher events.Publisher
	maxWidth  int
	maxHeight int
	timeout   time.Duration
	newID     func() string
	now       func() time.Time

	mu       sync.Mutex
	consumed map[string]string
}

// Option 定义可选配置。
type Option func(*Service)

// WithBreaker 为生成调用增加熔断保护。
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithPublisher 设置事件发布者。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMaxSize 设置允许生成的最大尺寸，通常等于网格尺寸。
func WithMaxSize(width, height int) Option {
	return func(s *Service) {
		if width > 0 {
			s.maxWidth = width
		}
		if height > 0 {
			s.maxHeight = height
		}
	}
}

// WithTimeout 限制单次生成的耗时。
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIDGenerator 替换图片 ID 生成器。
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService 创建图片服务。
func NewService(store Store, generator imagegen.Generator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		generator: generator,
		breaker:   circuitbreaker.New("imagegen", 5, 30*time.Second),
		publisher: events.Nop{},
		maxWidth:  1000,
		maxHeight: 1000,
		timeout:   defaultTimeout,
		newID:     uuid.NewString,
		now:       time.Now,
		consumed:  make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CheckRequest 校验提示词与尺寸。
func (s *Service) CheckRequest(prompt string, width, height int) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "prompt must not be empty", xerrors.WithField("prompt"))
	}
	if len([]rune(prompt)) > MaxPromptLength {
		return xerrors.New(xerrors.CodeInvalidInput,
			fmt.Sprintf("prompt must be at most %d characters", MaxPromptLength),
			xerrors.WithField("prompt"), xerrors.WithLimit(MaxPromptLength))
	}
	dims := []struct {
		field string
		value int
		max   int
	}{{"width", width, s.maxWidth}, {"height", height, s.maxHeight}}
	for _, d := range dims {
		switch {
		case d.value < MinSide:
			return xerrors.New(xerrors.CodeTooSmall, fmt.Sprintf("%s must be at least %d", d.field, MinSide),
				xerrors.WithField(d.field), xerrors.WithLimit(MinSide), xerrors.WithValue(d.value))
		case d.value > d.max:
			return xerrors.New(xerrors.CodeTooLarge, fmt.Sprintf("%s must be at most %d", d.field, d.max),
				xerrors.WithField(d.field), xerrors.WithLimit(d.max), xerrors.WithValue(d.value))
		case d.value%Alignment != 0:
			return xerrors.New(xerrors.CodeMisaligned, fmt.Sprintf("%s must be a multiple of %d", d.field, Alignment),
				xerrors.WithField(d.field), xerrors.WithLimit(Alignment), xerrors.WithValue(d.value))
		}
	}
	return nil
}

// Generate 调用生成器得到图片，缩放到精确尺寸后保存。
func (s *Service) Generate(ctx context.Context, prompt string, width, height int) (Image, error) {
	if err := s.CheckRequest(prompt, width, height); err != nil {
		return Image{}, err
	}
	prompt = strings.TrimSpace(prompt)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	var result *imagegen.Result
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var genErr error
		result, genErr = s.generator.Generate(ctx, imagegen.Request{Prompt: prompt, Width: width, Height: height})
		return genErr
	})
	if err != nil {
		metrics.ObserveImageGeneration(s.generator.Name(), "error", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) {
			return Image{}, xerrors.Wrap(xerrors.CodeTimeout, err, "image generation timed out")
		}
		return Image{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "image generation failed",
			xerrors.WithMetadata("generator", s.generator.Name()))
	}

	data, err := FitPNG(result.Data, width, height)
	if err != nil {
		metrics.ObserveImageGeneration(s.generator.Name(), "error", time.Since(start))
		return Image{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "generated image could not be decoded")
	}

	img := Image{
		ID:            s.newID(),
		Prompt:        prompt,
		RevisedPrompt: result.RevisedPrompt,
		Width:         width,
		Height:        height,
		ContentType:   "image/png",
		Size:          len(data),
		Generator:     s.generator.Name(),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Save(ctx, img, data); err != nil {
		metrics.ObserveImageGeneration(s.generator.Name(), "error", time.Since(start))
		return Image{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to store image")
	}
	metrics.ObserveImageGeneration(s.generator.Name(), "ok", time.Since(start))
	logger.L().Info("图片已生成", "image_id", img.ID, "generator", img.Generator, "width", width, "height", height)

	if evt, err := events.New(events.TypeImageGenerated, img); err == nil {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			logger.L().Warn("发布图片事件失败", "image_id", img.ID, "error", err)
		}
	}
	return img, nil
}

// Get 返回图片元数据与字节。
func (s *Service) Get(ctx context.Context, id string) (Image, []byte, error) {
	img, data, err := s.store.Load(ctx, id)
	if err != nil {
		return Image{}, nil, s.translate(id, err)
	}
	img.ConsumedBy = s.consumedBy(id)
	return img, data, nil
}

// Stat 返回图片元数据。
func (s *Service) Stat(ctx context.Context, id string) (Image, error) {
	img, err := s.store.Stat(ctx, id)
	if err != nil {
		return Image{}, s.translate(id, err)
	}
	img.ConsumedBy = s.consumedBy(id)
	return img, nil
}

// Available 判断图片存在且尚未被投放使用。
func (s *Service) Available(ctx context.Context, id string) (bool, error) {
	if _, err := s.store.Stat(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to read image")
	}
	return s.consumedBy(id) == "", nil
}

// Consume 将图片标记为被 placementID 使用，每张图片只能使用一次。
func (s *Service) Consume(ctx context.Context, id, placementID string) error {
	if _, err := s.store.Stat(ctx, id); err != nil {
		return s.translate(id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, used := s.consumed[id]; used {
		return xerrors.New(xerrors.CodeUnknownImage,
			fmt.Sprintf("image %s is already used by placement %s", id, owner),
			xerrors.WithField("imageId"), xerrors.WithValue(id))
	}
	s.consumed[id] = placementID
	return nil
}

func (s *Service) consumedBy(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[id]
}

func (s *Service) translate(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return xerrors.New(xerrors.CodeUnknownImage, fmt.Sprintf("image %s not found", id),
			xerrors.WithField("imageId"), xerrors.WithValue(id))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to read image")
}

// Close 释放底层存储。
func (s *Service) Close() error {
	return s.store.Close()
}
