package placement

import (
	"math/rand/v2"

	"PixelBoard/internal/grid"
)

// DefaultSearchAttempts 是每次搜索采样的候选数量。
const DefaultSearchAttempts = 200

// Occupancy 是空位搜索所需的占用视图，grid.Store 与 grid.Occupancy 都满足该接口。
type Occupancy interface {
	Bounds() (width, height int)
	IsVacant(r grid.Rect) bool
}

// Rand 是搜索使用的随机源，*rand.Rand 满足该接口。
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// SearchResult 是空位搜索的结果。
type SearchResult struct {
	Found bool `json:"found"`
	X     int  `json:"x"`
	Y     int  `json:"y"`
}

// FindEmptySpace 随机采样候选左上角并对齐到 10 像素网格，打乱后返回第一个完全空闲的位置。
// 搜索是尽力而为的：即便网格仍有空位也可能返回 Found=false，且相同输入的结果不固定。
func FindEmptySpace(occ Occupancy, width, height int, rng Rand) SearchResult {
	return FindEmptySpaceN(occ, width, height, DefaultSearchAttempts, rng)
}

// FindEmptySpaceN 与 FindEmptySpace 相同，但可指定采样数量。
func FindEmptySpaceN(occ Occupancy, width, height, attempts int, rng Rand) SearchResult {
	gridW, gridH := occ.Bounds()
	if width <= 0 || height <= 0 || width > gridW || height > gridH {
		return SearchResult{}
	}
	if attempts <= 0 {
		attempts = DefaultSearchAttempts
	}
	if rng == nil {
		rng = globalRand{}
	}

	candidates := make([]grid.Rect, 0, attempts)
	for i := 0; i < attempts; i++ {
		x := rng.IntN(gridW - width + 1)
		y := rng.IntN(gridH - height + 1)
		x -= x % Alignment
		y -= y % Alignment
		candidates = append(candidates, grid.Rect{X: x, Y: y, Width: width, Height: height})
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, c := range candidates {
		if occ.IsVacant(c) {
			return SearchResult{Found: true, X: c.X, Y: c.Y}
		}
	}
	return SearchResult{}
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

var (
	_ Occupancy = (*grid.Store)(nil)
	_ Occupancy = (*grid.Occupancy)(nil)
	_ Rand      = (*rand.Rand)(nil)
)
