package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Brand 是可投放的广告主。
type Brand struct {
	Name     string   `yaml:"name" json:"name"`
	Link     string   `yaml:"link" json:"link"`
	Tagline  string   `yaml:"tagline" json:"tagline"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Style 是生成图片时使用的视觉风格。
type Style struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Size 是一个合法的广告尺寸。
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Catalog 汇总智能体可选的品牌、风格与尺寸。
type Catalog struct {
	Brands []Brand `yaml:"brands" json:"brands"`
	Styles []Style `yaml:"styles" json:"styles"`
	Sizes  []Size  `yaml:"sizes" json:"sizes"`
}

// Default 返回内置目录，未配置 YAML 时使用。
func Default() *Catalog {
	return &Catalog{
		Brands: []Brand{
			{Name: "NebulaBrew", Link: "https://nebulabrew.example", Tagline: "Coffee brewed among the stars", Keywords: []string{"coffee", "space"}},
			{Name: "PixelPaws", Link: "https://pixelpaws.example", Tagline: "Pet toys for digital natives", Keywords: []string{"pets", "games"}},
			{Name: "VoltRide", Link: "https://voltride.example", Tagline: "Electric bikes for every city", Keywords: []string{"mobility", "green"}},
			{Name: "ByteBakery", Link: "https://bytebakery.example", Tagline: "Fresh bread, compiled daily", Keywords: []string{"food", "bakery"}},
			{Name: "OrbitSocks", Link: "https://orbitsocks.example", Tagline: "Socks that never lose their pair", Keywords: []string{"fashion"}},
		},
		Styles: []Style{
			{Name: "pixel-art", Description: "8-bit pixel art with a limited palette"},
			{Name: "neon", Description: "glowing neon outlines on a dark background"},
			{Name: "flat", Description: "flat vector logo with bold shapes"},
			{Name: "watercolor", Description: "soft watercolor illustration"},
			{Name: "retro-poster", Description: "1960s travel poster with grainy texture"},
		},
		Sizes: []Size{
			{Width: 10, Height: 10},
			{Width: 20, Height: 20},
			{Width: 30, Height: 20},
			{Width: 40, Height: 40},
			{Width: 50, Height: 30},
		},
	}
}

// Load 从 YAML 文件加载目录，缺失的分类沿用内置值。
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}

	var loaded Catalog
	if err := yaml.Unmarshal(content, &loaded); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}

	def := Default()
	if len(loaded.Brands) == 0 {
		loaded.Brands = def.Brands
	}
	if len(loaded.Styles) == 0 {
		loaded.Styles = def.Styles
	}
	if len(loaded.Sizes) == 0 {
		loaded.Sizes = def.Sizes
	}
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return &loaded, nil
}

// Validate 检查尺寸是否满足广告位规则（10 的倍数，10 到 100 之间）。
func (c *Catalog) Validate() error {
	for _, b := range c.Brands {
		if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.Link) == "" {
			return fmt.Errorf("品牌缺少名称或链接: %+v", b)
		}
	}
	for _, s := range c.Sizes {
		for _, v := range []int{s.Width, s.Height} {
			if v < 10 || v > 100 || v%10 != 0 {
				return fmt.Errorf("非法的广告尺寸 %dx%d", s.Width, s.Height)
			}
		}
	}
	return nil
}

// Filter 返回关键字匹配的品牌。空关键字返回全部。
func (c *Catalog) Filter(keyword string) []Brand {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return append([]Brand(nil), c.Brands...)
	}
	var out []Brand
	for _, b := range c.Brands {
		if strings.Contains(strings.ToLower(b.Name), keyword) {
			out = append(out, b)
			continue
		}
		for _, k := range b.Keywords {
			if strings.EqualFold(strings.TrimSpace(k), keyword) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}
