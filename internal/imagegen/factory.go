package imagegen

import (
	"context"
	"fmt"
)

// New 根据配置构建生成器，未配置时使用占位生成器。
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch normalizeProvider(cfg.Provider) {
	case "", "placeholder":
		return Placeholder{}, nil
	case "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "gemini":
		return NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("不支持的图片生成服务: %s", cfg.Provider)
	}
}
