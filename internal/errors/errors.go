package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message    string
	Severity   Severity
	Retryable  bool
	HTTPStatus int
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeInvalidColor          Code = "INVALID_COLOR"
	CodeOutOfBounds           Code = "OUT_OF_BOUNDS"
	CodeTooSmall              Code = "TOO_SMALL"
	CodeTooLarge              Code = "TOO_LARGE"
	CodeMisaligned            Code = "MISALIGNED"
	CodeUnknownImage          Code = "UNKNOWN_IMAGE"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodePaymentRequired       Code = "PAYMENT_REQUIRED"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, HTTPStatus: http.StatusInternalServerError},
		CodeInvalidInput:          {Message: "invalid input", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeInvalidColor:          {Message: "color must be a 6-digit hex value", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeOutOfBounds:           {Message: "outside of the grid", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeTooSmall:              {Message: "dimension below the minimum", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeTooLarge:              {Message: "dimension above the maximum", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeMisaligned:            {Message: "dimension must be a multiple of 10", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeUnknownImage:          {Message: "image handle not found", Severity: SeverityInfo, HTTPStatus: http.StatusNotFound},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, HTTPStatus: http.StatusNotFound},
		CodeUpstreamFailure:       {Message: "upstream service failed", Severity: SeverityWarning, Retryable: true, HTTPStatus: http.StatusBadGateway},
		CodePaymentRequired:       {Message: "payment required", Severity: SeverityInfo, HTTPStatus: http.StatusPaymentRequired},
		CodeRateLimited:           {Message: "too many requests", Severity: SeverityInfo, Retryable: true, HTTPStatus: http.StatusTooManyRequests},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, HTTPStatus: http.StatusServiceUnavailable},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, HTTPStatus: http.StatusInternalServerError},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, HTTPStatus: http.StatusGatewayTimeout},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如出错的字段与限制值。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithField 是 WithMetadata("field", name) 的简写。
func WithField(name string) Option {
	return WithMetadata("field", name)
}

// WithLimit 记录触发校验失败的限制值。
func WithLimit(limit any) Option {
	return WithMetadata("limit", fmt.Sprint(limit))
}

// WithValue 记录调用方提交的原始值。
func WithValue(value any) Option {
	return WithMetadata("value", fmt.Sprint(value))
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// HTTPStatus 返回错误码映射的 HTTP 状态。
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	status := AttributesOf(e.code).HTTPStatus
	if status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

// Payload 是错误对外暴露的结构化形式，API 响应和智能体工具结果共用。
type Payload struct {
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

// Payload 将错误转换为可序列化的结构。
func (e *Error) Payload() Payload {
	return Payload{
		Code:      e.Code(),
		Message:   e.Message(),
		Retryable: e.Retryable(),
		Details:   e.Metadata(),
	}
}

// PayloadOf 将任意 error 转换为 Payload，非统一错误归类为 UNKNOWN。
func PayloadOf(err error) Payload {
	if e, ok := From(err); ok {
		p := e.Payload()
		if e.cause != nil {
			if p.Details == nil {
				p.Details = map[string]string{}
			}
			p.Details["cause"] = e.cause.Error()
		}
		return p
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Payload{Code: CodeUnknown, Message: msg}
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// HTTPStatusOf 返回任意 error 对应的 HTTP 状态。
func HTTPStatusOf(err error) int {
	if e, ok := From(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Codes 返回已注册的错误码，按字母排序。
func Codes() []Code {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]Code, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
