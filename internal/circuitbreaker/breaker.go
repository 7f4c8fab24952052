package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"PixelBoard/pkg/logger"
)

// State 表示熔断器状态。
type State int

const (
	Closed   State = iota // 正常放行
	Open                  // 直接拒绝
	HalfOpen              // 放行一次探测请求
)

// String 实现 fmt.Stringer。
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 在熔断器打开时返回。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker 保护对外部服务（支付协调方、图片生成、推理服务）的调用。
type Breaker struct {
	name         string
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
	probing      bool
	isFailure    func(error) bool
	onChange     func(name string, from, to State)
	now          func() time.Time
}

// Option 定义熔断器的可选配置。
type Option func(*Breaker)

// WithFailurePredicate 指定哪些错误计入失败次数，默认所有非 nil 错误都计入。
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

// WithStateChange 注册状态切换回调，常用于指标上报。
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New 创建熔断器：连续 maxFailures 次失败后打开，resetTimeout 之后进入半开状态。
func New(name string, maxFailures int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	b := &Breaker{
		name:         name,
		state:        Closed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		isFailure:    func(err error) bool { return err != nil },
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name 返回熔断器名称。
func (b *Breaker) Name() string { return b.name }

// Execute 通过熔断器执行 fn。熔断打开时不会调用 fn，直接返回 ErrCircuitOpen。
// ctx 被取消导致的错误不计入失败次数。
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(ctx, err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.setState(HalfOpen)
		b.probing = true
	case HalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	failed := err != nil && b.isFailure(err) && ctx.Err() == nil
	if !failed {
		b.failures = 0
		b.setState(Closed)
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.state == HalfOpen || b.failures >= b.maxFailures {
		b.setState(Open)
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	logger.L().Warn("熔断器状态变化", "breaker", b.name, "from", from.String(), "to", to.String())
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
