package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "dall-e-3"
	defaultOpenAITimeout = 120 * time.Second
	maxDownloadBytes     = 20 << 20
)

// OpenAIConfig 描述调用 OpenAI Images API 所需的信息。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	Timeout time.Duration
}

// OpenAI 通过 HTTP 调用 OpenAI Images API。
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	size       string
	httpClient *http.Client
}

// NewOpenAI 根据配置创建 OpenAI 图片生成器。
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	size := strings.TrimSpace(cfg.Size)
	if size == "" {
		size = "1024x1024"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	return &OpenAI{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		size:       size,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name 实现 Generator。
func (o *OpenAI) Name() string { return "openai" }

// Generate 实现 Generator。
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	body := map[string]any{
		"model":  o.model,
		"prompt": req.Prompt,
		"n":      1,
		"size":   o.size,
	}
	// gpt-image 系列始终返回 base64，不接受 response_format。
	if strings.HasPrefix(o.model, "dall-e") {
		body["response_format"] = "b64_json"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded struct {
		Data []struct {
			B64JSON       string `json:"b64_json"`
			URL           string `json:"url"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, errors.New("OpenAI 响应中没有图片")
	}
	item := decoded.Data[0]

	var data []byte
	switch {
	case item.B64JSON != "":
		data, err = base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("解码 OpenAI 图片失败: %w", err)
		}
	case item.URL != "":
		data, err = o.download(ctx, item.URL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("OpenAI 响应中的图片为空")
	}
	return &Result{Data: data, ContentType: http.DetectContentType(data), RevisedPrompt: item.RevisedPrompt}, nil
}

func (o *OpenAI) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构建图片下载请求失败: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载图片失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载图片返回状态 %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("读取图片失败: %w", err)
	}
	return data, nil
}

var _ Generator = (*OpenAI)(nil)
