package grid

import (
	"math"
	"testing"

	xerrors "PixelBoard/internal/errors"
)

const testUnitPrice Amount = 1000

func TestPaintCellLastWriteWins(t *testing.T) {
	store := NewStore(testUnitPrice)

	if _, isNew, err := store.PaintCell(5, 5, "#FF0000", "A"); err != nil || !isNew {
		t.Fatalf("first paint: isNew=%v err=%v", isNew, err)
	}
	cell, isNew, err := store.PaintCell(5, 5, "00ff00", "B")
	if err != nil {
		t.Fatalf("second paint: %v", err)
	}
	if isNew {
		t.Fatalf("repaint must not count as new")
	}
	if cell.Color != "#00FF00" {
		t.Fatalf("unexpected normalised color %s", cell.Color)
	}

	got, ok := store.GetCell(5, 5)
	if !ok {
		t.Fatalf("expected cell to exist")
	}
	if got.Color != "#00FF00" || got.Owner != "B" {
		t.Fatalf("unexpected cell %+v", got)
	}

	stats := store.Stats()
	if stats.CellsSold != 1 {
		t.Fatalf("expected 1 cell sold, got %d", stats.CellsSold)
	}
	if stats.Revenue != testUnitPrice {
		t.Fatalf("expected revenue %d, got %d", testUnitPrice, stats.Revenue)
	}
}

func TestPaintCellRejectsInvalidInput(t *testing.T) {
	store := NewStore(testUnitPrice)

	cases := []struct {
		name  string
		x, y  int
		color string
		code  xerrors.Code
	}{
		{name: "x too large", x: 1000, y: 0, color: "#FFFFFF", code: xerrors.CodeOutOfBounds},
		{name: "negative y", x: 0, y: -1, color: "#FFFFFF", code: xerrors.CodeOutOfBounds},
		{name: "short color", x: 1, y: 1, color: "#FFF", code: xerrors.CodeInvalidColor},
		{name: "not hex", x: 1, y: 1, color: "#GGGGGG", code: xerrors.CodeInvalidColor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := store.PaintCell(tc.x, tc.y, tc.color, "owner")
			if got := xerrors.CodeOf(err); got != tc.code {
				t.Fatalf("expected %s, got %s (%v)", tc.code, got, err)
			}
		})
	}

	if store.Stats().CellsSold != 0 {
		t.Fatalf("rejected paints must not change counters")
	}
}

func TestPaintRectCountsOnlyNewPixels(t *testing.T) {
	store := NewStore(testUnitPrice)
	if _, _, err := store.PaintCell(0, 0, "#000000", "early"); err != nil {
		t.Fatalf("paint: %v", err)
	}

	newPixels, err := store.PaintRect(Rect{X: 0, Y: 0, Width: 10, Height: 10}, "#CCCCCC", "agent", "p-1")
	if err != nil {
		t.Fatalf("paint rect: %v", err)
	}
	if newPixels != 99 {
		t.Fatalf("expected 99 new pixels, got %d", newPixels)
	}

	cell, _ := store.GetCell(0, 0)
	if cell.PlacementID != "p-1" || cell.Owner != "agent" {
		t.Fatalf("expected overwritten cell to carry placement, got %+v", cell)
	}
	if got := store.Stats().Revenue; got != testUnitPrice.Mul(100) {
		t.Fatalf("unexpected revenue %d", got)
	}
}

func TestPaintRectOutOfBounds(t *testing.T) {
	store := NewStore(testUnitPrice)
	_, err := store.PaintRect(Rect{X: 990, Y: 990, Width: 20, Height: 20}, "#CCCCCC", "agent", "p")
	if xerrors.CodeOf(err) != xerrors.CodeOutOfBounds {
		t.Fatalf("expected OUT_OF_BOUNDS, got %v", err)
	}
	if len(store.AllCells()) != 0 {
		t.Fatalf("failed rect paint must not write cells")
	}
}

func TestRectBounds(t *testing.T) {
	store := NewStore(testUnitPrice)
	cases := []struct {
		name string
		rect Rect
		want bool
	}{
		{"inside", Rect{X: 10, Y: 10, Width: 20, Height: 20}, true},
		{"ends at the corner", Rect{X: 900, Y: 900, Width: 100, Height: 100}, true},
		{"one past the right edge", Rect{X: 901, Y: 0, Width: 100, Height: 10}, false},
		{"one past the bottom edge", Rect{X: 0, Y: 991, Width: 10, Height: 10}, false},
		{"negative x", Rect{X: -10, Y: 0, Width: 10, Height: 10}, false},
		{"negative y", Rect{X: 0, Y: -1, Width: 10, Height: 10}, false},
		{"huge x", Rect{X: math.MaxInt - 5, Y: 0, Width: 20, Height: 20}, false},
		{"huge y", Rect{X: 0, Y: math.MaxInt - 5, Width: 20, Height: 20}, false},
		{"empty", Rect{X: 0, Y: 0, Width: 0, Height: 10}, false},
	}
	snap := store.Snapshot()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := store.Contains(tc.rect); got != tc.want {
				t.Fatalf("Contains(%+v) = %v, want %v", tc.rect, got, tc.want)
			}
			if got := snap.IsVacant(tc.rect); got != tc.want {
				t.Fatalf("IsVacant(%+v) = %v, want %v", tc.rect, got, tc.want)
			}
		})
	}
}

func TestPaintRectRejectsOverflowingRect(t *testing.T) {
	store := NewStore(testUnitPrice)
	_, err := store.PaintRect(Rect{X: math.MaxInt - 5, Y: 0, Width: 20, Height: 20}, "#CCCCCC", "agent", "p")
	if xerrors.CodeOf(err) != xerrors.CodeOutOfBounds {
		t.Fatalf("expected OUT_OF_BOUNDS, got %v", err)
	}
	if stats := store.Stats(); stats.CellsSold != 0 || stats.Revenue != 0 {
		t.Fatalf("rejected rect must not change counters: %+v", stats)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	store := NewStore(testUnitPrice, WithSize(100, 100))
	if _, _, err := store.PaintCell(15, 15, "#123456", "a"); err != nil {
		t.Fatalf("paint: %v", err)
	}
	snap := store.Snapshot()
	if snap.IsVacant(Rect{X: 10, Y: 10, Width: 10, Height: 10}) {
		t.Fatalf("expected occupied rectangle")
	}
	if _, _, err := store.PaintCell(55, 55, "#123456", "a"); err != nil {
		t.Fatalf("paint: %v", err)
	}
	if !snap.IsVacant(Rect{X: 50, Y: 50, Width: 10, Height: 10}) {
		t.Fatalf("snapshot must not observe later writes")
	}
	if store.IsVacant(Rect{X: 50, Y: 50, Width: 10, Height: 10}) {
		t.Fatalf("store must observe later writes")
	}
}

func TestAmountUSD(t *testing.T) {
	unit, err := AmountFromUSD(0.001)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if unit != 1000 {
		t.Fatalf("expected 1000 atomic units, got %d", unit)
	}
	if got := unit.Mul(400).USD(); got != "0.4" {
		t.Fatalf("unexpected usd string %s", got)
	}
	if _, err := AmountFromUSD(-1); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
}
