package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash-preview-image-generation"

// GeminiConfig 描述 Gemini 图片生成参数。
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini 使用 generative-ai-go SDK 生成图片。
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGemini 创建 Gemini 客户端。
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("初始化 Gemini 客户端失败: %w", err)
	}
	return &Gemini{client: client, model: client.GenerativeModel(name), modelName: name}, nil
}

// Name 实现 Generator。
func (g *Gemini) Name() string { return "gemini" }

// Generate 实现 Generator，返回响应中的第一张图片。
func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := fmt.Sprintf("%s\n\nCompose the image for a %dx%d pixel banner.", req.Prompt, req.Width, req.Height)
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini 生成图片失败: %w", err)
	}
	blob, text, err := firstImage(resp)
	if err != nil {
		return nil, err
	}
	return &Result{Data: blob.Data, ContentType: blob.MIMEType, RevisedPrompt: text}, nil
}

func firstImage(resp *genai.GenerateContentResponse) (genai.Blob, string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return genai.Blob{}, "", errors.New("Gemini 未返回候选结果")
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Blob:
			if strings.HasPrefix(p.MIMEType, "image/") && len(p.Data) > 0 {
				return p, strings.TrimSpace(text.String()), nil
			}
		case genai.Text:
			text.WriteString(string(p))
		}
	}
	return genai.Blob{}, "", fmt.Errorf("Gemini 响应中没有图片: %s", strings.TrimSpace(text.String()))
}

// Close 释放底层连接。
func (g *Gemini) Close() error {
	return g.client.Close()
}

var _ Generator = (*Gemini)(nil)
