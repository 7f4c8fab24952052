package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
)

// Placeholder 在本地渲染纯色图片，用于离线开发与测试。颜色由提示词决定。
type Placeholder struct{}

// Name 实现 Generator。
func (Placeholder) Name() string { return "placeholder" }

// Generate 实现 Generator。
func (Placeholder) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := req.Width, req.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("非法尺寸 %dx%d", w, h)
	}
	fill, border := PromptColors(req.Prompt)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := fill
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				c = border
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("编码占位图片失败: %w", err)
	}
	return &Result{Data: buf.Bytes(), ContentType: "image/png"}, nil
}

// PromptColors 根据提示词计算稳定的填充色与边框色。
func PromptColors(prompt string) (color.RGBA, color.RGBA) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}
	border := color.RGBA{R: fill.R / 2, G: fill.G / 2, B: fill.B / 2, A: 0xff}
	return fill, border
}

var _ Generator = Placeholder{}
