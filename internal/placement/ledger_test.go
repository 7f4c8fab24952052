package placement

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/events"
	"PixelBoard/internal/grid"
)

const unitPrice grid.Amount = 1000

type stubImages struct {
	mu       sync.Mutex
	images   map[string]string
	consumed map[string]string
}

func newStubImages(ids ...string) *stubImages {
	s := &stubImages{images: map[string]string{}, consumed: map[string]string{}}
	for _, id := range ids {
		s.images[id] = "image/png"
	}
	return s
}

func (s *stubImages) Available(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.images[id]
	_, used := s.consumed[id]
	return ok && !used, nil
}

func (s *stubImages) Consume(_ context.Context, id, placementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[id]; !ok {
		return xerrors.New(xerrors.CodeUnknownImage, "")
	}
	if _, used := s.consumed[id]; used {
		return xerrors.New(xerrors.CodeUnknownImage, "already placed")
	}
	s.consumed[id] = placementID
	return nil
}

func validRequest(imageID string) Request {
	return Request{X: 0, Y: 0, Width: 20, Height: 20, ImageID: imageID, Link: "https://example.com", Title: "Hello", Owner: "agent"}
}

func TestPlaceAdOnEmptyGrid(t *testing.T) {
	store := grid.NewStore(unitPrice)
	hub := events.NewHub(4)
	sub, cancel := hub.Subscribe()
	defer cancel()
	ledger := NewLedger(store, newStubImages("img-1"), WithPublisher(hub))

	p, err := ledger.PlaceAd(context.Background(), validRequest("img-1"))
	if err != nil {
		t.Fatalf("place ad: %v", err)
	}
	if p.PixelCount != 400 || p.NewPixels != 400 {
		t.Fatalf("unexpected pixel counts %+v", p)
	}
	if p.TotalCost != unitPrice.Mul(400) {
		t.Fatalf("unexpected total cost %d", p.TotalCost)
	}

	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			cell, ok := store.GetCell(x, y)
			if !ok || cell.PlacementID != p.ID {
				t.Fatalf("cell (%d,%d) missing placement id: %+v", x, y, cell)
			}
			if cell.Color != PlaceholderColor {
				t.Fatalf("unexpected color %s", cell.Color)
			}
		}
	}
	stats := store.Stats()
	if stats.CellsSold != 400 || stats.Revenue != unitPrice.Mul(400) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	evt := <-sub
	if evt.Type != events.TypeAdPlaced {
		t.Fatalf("unexpected event %s", evt.Type)
	}
}

func TestPlaceAdRevenueCountsOnlyNewPixels(t *testing.T) {
	store := grid.NewStore(unitPrice)
	ledger := NewLedger(store, newStubImages("a", "b"))

	if _, err := ledger.PlaceAd(context.Background(), validRequest("a")); err != nil {
		t.Fatalf("first placement: %v", err)
	}
	req := validRequest("b")
	req.X, req.Y = 10, 10
	p, err := ledger.PlaceAd(context.Background(), req)
	if err != nil {
		t.Fatalf("overlapping placement: %v", err)
	}
	if p.NewPixels != 300 {
		t.Fatalf("expected 300 new pixels, got %d", p.NewPixels)
	}
	if p.TotalCost != unitPrice.Mul(400) {
		t.Fatalf("total cost is charged on the full rectangle, got %d", p.TotalCost)
	}
	if got := store.Stats().Revenue; got != unitPrice.Mul(700) {
		t.Fatalf("unexpected revenue %d", got)
	}
}

func TestPlaceAdValidation(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*Request)
		code  xerrors.Code
		field string
	}{
		{"too small", func(r *Request) { r.Width = 5 }, xerrors.CodeTooSmall, "width"},
		{"too small wins over misaligned", func(r *Request) { r.Height = 5 }, xerrors.CodeTooSmall, "height"},
		{"too large", func(r *Request) { r.Height = 110 }, xerrors.CodeTooLarge, "height"},
		{"misaligned", func(r *Request) { r.Width = 25 }, xerrors.CodeMisaligned, "width"},
		{"out of bounds", func(r *Request) { r.X, r.Y = 990, 990 }, xerrors.CodeOutOfBounds, "x"},
		{"negative x", func(r *Request) { r.X = -10 }, xerrors.CodeOutOfBounds, "x"},
		{"negative y", func(r *Request) { r.Y = -10 }, xerrors.CodeOutOfBounds, "y"},
		{"one past the right edge", func(r *Request) { r.X, r.Width = 910, 100 }, xerrors.CodeOutOfBounds, "x"},
		{"huge x", func(r *Request) { r.X = math.MaxInt - 5 }, xerrors.CodeOutOfBounds, "x"},
		{"huge y", func(r *Request) { r.Y = math.MaxInt - 5 }, xerrors.CodeOutOfBounds, "y"},
		{"huge x and y", func(r *Request) { r.X, r.Y = math.MaxInt, math.MaxInt }, xerrors.CodeOutOfBounds, "x"},
		{"unknown image", func(r *Request) { r.ImageID = "missing" }, xerrors.CodeUnknownImage, "imageId"},
		{"bounds before image", func(r *Request) { r.X, r.ImageID = 995, "missing" }, xerrors.CodeOutOfBounds, "x"},
		{"empty link", func(r *Request) { r.Link = " " }, xerrors.CodeInvalidInput, "link"},
		{"bad scheme", func(r *Request) { r.Link = "javascript:alert(1)" }, xerrors.CodeInvalidInput, "link"},
		{"empty title", func(r *Request) { r.Title = "" }, xerrors.CodeInvalidInput, "title"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := grid.NewStore(unitPrice)
			ledger := NewLedger(store, newStubImages("img"))
			req := validRequest("img")
			tc.edit(&req)

			_, err := ledger.PlaceAd(context.Background(), req)
			xe, ok := xerrors.From(err)
			if !ok {
				t.Fatalf("expected structured error, got %v", err)
			}
			if xe.Code() != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, xe.Code())
			}
			if xe.Metadata()["field"] != tc.field {
				t.Fatalf("expected field %s, got %+v", tc.field, xe.Metadata())
			}
			if len(store.AllCells()) != 0 || ledger.Count() != 0 {
				t.Fatalf("rejected placement must not mutate state")
			}
		})
	}
}

func TestPlaceAdTouchingTheEdges(t *testing.T) {
	store := grid.NewStore(unitPrice)
	images := newStubImages("right", "bottom")
	ledger := NewLedger(store, images)

	right := validRequest("right")
	right.X, right.Width = 900, 100
	p, err := ledger.PlaceAd(context.Background(), right)
	if err != nil {
		t.Fatalf("rectangle ending at the right edge: %v", err)
	}
	if cell, ok := store.GetCell(999, 19); !ok || cell.PlacementID != p.ID {
		t.Fatalf("expected last column to carry placement %s, got %+v", p.ID, cell)
	}

	bottom := validRequest("bottom")
	bottom.Y, bottom.Height = 900, 100
	p, err = ledger.PlaceAd(context.Background(), bottom)
	if err != nil {
		t.Fatalf("rectangle ending at the bottom edge: %v", err)
	}
	if cell, ok := store.GetCell(19, 999); !ok || cell.PlacementID != p.ID {
		t.Fatalf("expected last row to carry placement %s, got %+v", p.ID, cell)
	}
	if p.NewPixels != p.PixelCount {
		t.Fatalf("expected every pixel painted, got %d of %d", p.NewPixels, p.PixelCount)
	}
}

func TestRejectedPlacementKeepsImage(t *testing.T) {
	images := newStubImages("img")
	ledger := NewLedger(grid.NewStore(unitPrice), images)
	req := validRequest("img")
	req.X = math.MaxInt - 5
	if _, err := ledger.PlaceAd(context.Background(), req); xerrors.CodeOf(err) != xerrors.CodeOutOfBounds {
		t.Fatalf("expected OUT_OF_BOUNDS, got %v", err)
	}
	if ok, _ := images.Available(context.Background(), "img"); !ok {
		t.Fatalf("rejected placement must not consume the image")
	}
	if _, err := ledger.PlaceAd(context.Background(), validRequest("img")); err != nil {
		t.Fatalf("image should still back a valid placement: %v", err)
	}
}

func TestImageCanOnlyBackOnePlacement(t *testing.T) {
	ledger := NewLedger(grid.NewStore(unitPrice), newStubImages("img"))
	if _, err := ledger.PlaceAd(context.Background(), validRequest("img")); err != nil {
		t.Fatalf("first placement: %v", err)
	}
	req := validRequest("img")
	req.X = 500
	if _, err := ledger.PlaceAd(context.Background(), req); xerrors.CodeOf(err) != xerrors.CodeUnknownImage {
		t.Fatalf("expected UNKNOWN_IMAGE on reuse, got %v", err)
	}
}

func TestListPlacementsKeepsCreationOrder(t *testing.T) {
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, fmt.Sprintf("img-%d", i))
	}
	seq := 0
	ledger := NewLedger(grid.NewStore(unitPrice), newStubImages(ids...), WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("p-%d", seq)
	}))
	for i, id := range ids {
		req := validRequest(id)
		req.X = i * 100
		if _, err := ledger.PlaceAd(context.Background(), req); err != nil {
			t.Fatalf("place %d: %v", i, err)
		}
	}

	list := ledger.ListPlacements()
	if len(list) != 5 {
		t.Fatalf("expected 5 placements, got %d", len(list))
	}
	for i, p := range list {
		if p.ID != fmt.Sprintf("p-%d", i+1) || p.ImageID != ids[i] {
			t.Fatalf("unexpected order at %d: %+v", i, p)
		}
	}
	if got, ok := ledger.Get("p-3"); !ok || got.X != 200 {
		t.Fatalf("unexpected lookup %+v %v", got, ok)
	}
}

func TestValidateHasNoSideEffects(t *testing.T) {
	images := newStubImages("img")
	ledger := NewLedger(grid.NewStore(unitPrice), images)
	if err := ledger.Validate(context.Background(), validRequest("img")); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok, _ := images.Available(context.Background(), "img"); !ok {
		t.Fatalf("validate must not consume the image")
	}
	if ledger.Price(validRequest("img")) != unitPrice.Mul(400) {
		t.Fatalf("unexpected price")
	}
}
