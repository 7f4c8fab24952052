package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// FitPNG 将任意格式的图片按目标宽高比居中裁剪，再缩放为精确的 width×height PNG。
func FitPNG(data []byte, width, height int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解码图片失败: %w", err)
	}
	crop := coverRect(src.Bounds(), width, height)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("编码图片失败: %w", err)
	}
	return buf.Bytes(), nil
}

// coverRect 返回 b 中与 width:height 同比例的最大居中矩形。
func coverRect(b image.Rectangle, width, height int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	if sw*height > sh*width {
		cw := sh * width / height
		if cw < 1 {
			cw = 1
		}
		x0 := b.Min.X + (sw-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := sw * height / width
	if ch < 1 {
		ch = 1
	}
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}
