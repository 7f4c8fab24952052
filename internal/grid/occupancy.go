package grid

// Occupancy 是网格占用情况的只读快照。
type Occupancy struct {
	width    int
	height   int
	occupied map[int]struct{}
}

// NewOccupancy 根据格子列表构建快照，越界格子会被忽略。
func NewOccupancy(width, height int, cells []Cell) *Occupancy {
	occ := &Occupancy{width: width, height: height, occupied: make(map[int]struct{}, len(cells))}
	for _, c := range cells {
		if c.X < 0 || c.X >= width || c.Y < 0 || c.Y >= height {
			continue
		}
		occ.occupied[c.Y*width+c.X] = struct{}{}
	}
	return occ
}

// Bounds 返回网格尺寸。
func (o *Occupancy) Bounds() (int, int) {
	return o.width, o.height
}

// Occupied 返回已占用的格子数量。
func (o *Occupancy) Occupied() int {
	return len(o.occupied)
}

// IsVacant 判断矩形是否完全空闲且位于网格内。
func (o *Occupancy) IsVacant(r Rect) bool {
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 || r.X > o.width-r.Width || r.Y > o.height-r.Height {
		return false
	}
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			if _, ok := o.occupied[y*o.width+x]; ok {
				return false
			}
		}
	}
	return true
}
