package imagegen

import (
	"context"
	"strings"
)

// Request 描述一次图片生成请求。宽高是最终投放尺寸，生成器可以返回任意尺寸，
// 由图片服务负责缩放。
type Request struct {
	Prompt string
	Width  int
	Height int
}

// Result 是生成器返回的原始图片。
type Result struct {
	Data        []byte
	ContentType string
	// RevisedPrompt 是上游模型改写后的提示词，可能为空。
	RevisedPrompt string
}

// Generator 定义图片生成后端的统一接口。
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Config 描述生成器选择与参数。
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
