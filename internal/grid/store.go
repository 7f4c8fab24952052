package grid

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	xerrors "PixelBoard/internal/errors"
)

const (
	// DefaultWidth 是网格默认宽度。
	DefaultWidth = 1000
	// DefaultHeight 是网格默认高度。
	DefaultHeight = 1000
)

var colorPattern = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// Cell 描述单个坐标的涂色状态。
type Cell struct {
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Color       string    `json:"color"`
	Owner       string    `json:"owner"`
	PlacementID string    `json:"placementId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Rect 是网格上的矩形区域，左上角为 (X, Y)。
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area 返回矩形面积。
func (r Rect) Area() int {
	return r.Width * r.Height
}

// Stats 汇总网格售卖情况。
type Stats struct {
	CellsSold   int     `json:"cellsSold"`
	TotalCells  int     `json:"totalCells"`
	PercentSold float64 `json:"percentSold"`
	Revenue     Amount  `json:"revenueAtomic"`
	RevenueUSD  string  `json:"revenueUsd"`
	UnitPrice   Amount  `json:"unitPriceAtomic"`
}

// Store 是网格的内存存储，同时持有售卖计数器。所有写操作都在同一把锁内完成。
type Store struct {
	mu        sync.RWMutex
	width     int
	height    int
	unitPrice Amount
	cells     map[int]*Cell
	revenue   Amount
	now       func() time.Time
}

// Option 定义可选的 Store 配置。
type Option func(*Store)

// WithSize 设置网格尺寸。
func WithSize(width, height int) Option {
	return func(s *Store) {
		if width > 0 {
			s.width = width
		}
		if height > 0 {
			s.height = height
		}
	}
}

// WithClock 替换时间来源，测试中使用。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore 创建网格存储。
func NewStore(unitPrice Amount, opts ...Option) *Store {
	s := &Store{
		width:     DefaultWidth,
		height:    DefaultHeight,
		unitPrice: unitPrice,
		cells:     make(map[int]*Cell),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Width 返回网格宽度。
func (s *Store) Width() int { return s.width }

// Height 返回网格高度。
func (s *Store) Height() int { return s.height }

// UnitPrice 返回每个像素的单价。
func (s *Store) UnitPrice() Amount { return s.unitPrice }

// NormalizeColor 校验颜色并统一为 "#RRGGBB"。
func NormalizeColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if !colorPattern.MatchString(color) {
		return "", xerrors.New(xerrors.CodeInvalidColor,
			fmt.Sprintf("color %q must match #RRGGBB", color),
			xerrors.WithField("color"), xerrors.WithValue(color))
	}
	return "#" + strings.ToUpper(strings.TrimPrefix(color, "#")), nil
}

// CheckPoint 校验坐标是否位于网格内。
func (s *Store) CheckPoint(x, y int) error {
	if x < 0 || x >= s.width {
		return xerrors.New(xerrors.CodeOutOfBounds,
			fmt.Sprintf("x must be within [0, %d)", s.width),
			xerrors.WithField("x"), xerrors.WithLimit(s.width-1), xerrors.WithValue(x))
	}
	if y < 0 || y >= s.height {
		return xerrors.New(xerrors.CodeOutOfBounds,
			fmt.Sprintf("y must be within [0, %d)", s.height),
			xerrors.WithField("y"), xerrors.WithLimit(s.height-1), xerrors.WithValue(y))
	}
	return nil
}

// Contains 判断矩形是否完整落在网格内。
func (s *Store) Contains(r Rect) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 &&
		r.X <= s.width-r.Width && r.Y <= s.height-r.Height
}

// PaintCell 为单个坐标涂色，返回写入后的格子以及是否为首次售出。
// 已有格子会被静默覆盖，本层不做归属校验。
func (s *Store) PaintCell(x, y int, color, owner string) (Cell, bool, error) {
	if err := s.CheckPoint(x, y); err != nil {
		return Cell{}, false, err
	}
	normalized, err := NormalizeColor(color)
	if err != nil {
		return Cell{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cell, isNew := s.paintLocked(x, y, normalized, owner, "", s.now())
	return *cell, isNew, nil
}

// PaintRect 将矩形内的所有格子写为同一颜色并关联投放 ID，返回首次售出的格子数。
func (s *Store) PaintRect(r Rect, color, owner, placementID string) (int, error) {
	if !s.Contains(r) {
		return 0, xerrors.New(xerrors.CodeOutOfBounds, "rectangle exceeds the grid",
			xerrors.WithField("rect"), xerrors.WithValue(fmt.Sprintf("%+v", r)))
	}
	normalized, err := NormalizeColor(color)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	newPixels := 0
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			if _, isNew := s.paintLocked(x, y, normalized, owner, placementID, now); isNew {
				newPixels++
			}
		}
	}
	return newPixels, nil
}

func (s *Store) paintLocked(x, y int, color, owner, placementID string, now time.Time) (*Cell, bool) {
	key := s.key(x, y)
	if cell, ok := s.cells[key]; ok {
		cell.Color = color
		cell.Owner = owner
		cell.PlacementID = placementID
		cell.UpdatedAt = now
		return cell, false
	}
	cell := &Cell{
		X:           x,
		Y:           y,
		Color:       color,
		Owner:       owner,
		PlacementID: placementID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.cells[key] = cell
	s.revenue += s.unitPrice
	return cell, true
}

// GetCell 返回指定坐标的格子。
func (s *Store) GetCell(x, y int) (Cell, bool) {
	if s.CheckPoint(x, y) != nil {
		return Cell{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.cells[s.key(x, y)]
	if !ok {
		return Cell{}, false
	}
	return *cell, true
}

// AllCells 返回所有已涂色格子的快照，顺序不保证。
func (s *Store) AllCells() []Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Cell, 0, len(s.cells))
	for _, cell := range s.cells {
		result = append(result, *cell)
	}
	return result
}

// IsVacant 判断矩形内是否没有任何已涂色格子。
func (s *Store) IsVacant(r Rect) bool {
	if !s.Contains(r) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			if _, ok := s.cells[s.key(x, y)]; ok {
				return false
			}
		}
	}
	return true
}

// Bounds 返回网格尺寸，满足 Occupancy 接口。
func (s *Store) Bounds() (int, int) {
	return s.width, s.height
}

// Stats 返回售卖统计。
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.width * s.height
	percent := 0.0
	if total > 0 {
		percent = float64(len(s.cells)) * 100 / float64(total)
	}
	return Stats{
		CellsSold:   len(s.cells),
		TotalCells:  total,
		PercentSold: percent,
		Revenue:     s.revenue,
		RevenueUSD:  s.revenue.USD(),
		UnitPrice:   s.unitPrice,
	}
}

func (s *Store) key(x, y int) int {
	return y*s.width + x
}

// Snapshot 复制当前占用情况，返回的视图与 Store 后续写入无关。
func (s *Store) Snapshot() *Occupancy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ := &Occupancy{width: s.width, height: s.height, occupied: make(map[int]struct{}, len(s.cells))}
	for key := range s.cells {
		occ.occupied[key] = struct{}{}
	}
	return occ
}
