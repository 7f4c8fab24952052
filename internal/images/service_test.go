package images

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"PixelBoard/internal/circuitbreaker"
	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/imagegen"
)

type failingGenerator struct{ calls int }

func (f *failingGenerator) Name() string { return "failing" }

func (f *failingGenerator) Generate(context.Context, imagegen.Request) (*imagegen.Result, error) {
	f.calls++
	return nil, errors.New("model overloaded")
}

type fixedGenerator struct{ width, height int }

func (f fixedGenerator) Name() string { return "fixed" }

func (f fixedGenerator) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	return imagegen.Placeholder{}.Generate(ctx, imagegen.Request{Prompt: req.Prompt, Width: f.width, Height: f.height})
}

func TestGenerateResizesAndStores(t *testing.T) {
	svc := NewService(NewMemoryStore(), fixedGenerator{width: 64, height: 64})

	img, err := svc.Generate(context.Background(), "  neon coffee  ", 40, 20)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if img.Prompt != "neon coffee" || img.ContentType != "image/png" || img.Generator != "fixed" {
		t.Fatalf("unexpected metadata %+v", img)
	}

	got, data, err := svc.Get(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("expected 40x20, got %v", b)
	}
	if got.Size != len(data) {
		t.Fatalf("size mismatch %d vs %d", got.Size, len(data))
	}
}

func TestGenerateValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), imagegen.Placeholder{}, WithMaxSize(100, 100))
	cases := []struct {
		prompt        string
		width, height int
		code          xerrors.Code
	}{
		{"", 10, 10, xerrors.CodeInvalidInput},
		{"ok", 5, 10, xerrors.CodeTooSmall},
		{"ok", 10, 110, xerrors.CodeTooLarge},
		{"ok", 15, 10, xerrors.CodeMisaligned},
	}
	for _, tc := range cases {
		_, err := svc.Generate(context.Background(), tc.prompt, tc.width, tc.height)
		if got := xerrors.CodeOf(err); got != tc.code {
			t.Fatalf("%+v: expected %s, got %s", tc, tc.code, got)
		}
	}
}

func TestGenerateUpstreamFailureTripsBreaker(t *testing.T) {
	gen := &failingGenerator{}
	breaker := circuitbreaker.New("test", 2, time.Hour)
	svc := NewService(NewMemoryStore(), gen, WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		_, err := svc.Generate(context.Background(), "x", 10, 10)
		if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
			t.Fatalf("attempt %d: expected UPSTREAM_FAILURE, got %v", i, err)
		}
	}
	if gen.calls != 2 {
		t.Fatalf("breaker should stop calls after two failures, got %d", gen.calls)
	}
	_, err := svc.Generate(context.Background(), "x", 10, 10)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected breaker error to be reachable through the wrapper, got %v", err)
	}
}

func TestConsumeOnlyOnce(t *testing.T) {
	svc := NewService(NewMemoryStore(), imagegen.Placeholder{})
	img, err := svc.Generate(context.Background(), "logo", 10, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ctx := context.Background()

	if ok, err := svc.Available(ctx, img.ID); err != nil || !ok {
		t.Fatalf("expected available image, ok=%v err=%v", ok, err)
	}
	if err := svc.Consume(ctx, img.ID, "p-1"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := svc.Consume(ctx, img.ID, "p-2"); xerrors.CodeOf(err) != xerrors.CodeUnknownImage {
		t.Fatalf("expected UNKNOWN_IMAGE on second consume, got %v", err)
	}
	if ok, _ := svc.Available(ctx, img.ID); ok {
		t.Fatalf("consumed image must not be available")
	}
	meta, _, err := svc.Get(ctx, img.ID)
	if err != nil || meta.ConsumedBy != "p-1" {
		t.Fatalf("consumed image must stay fetchable, got %+v %v", meta, err)
	}
}

func TestUnknownImage(t *testing.T) {
	svc := NewService(NewMemoryStore(), imagegen.Placeholder{})
	if _, _, err := svc.Get(context.Background(), "nope"); xerrors.CodeOf(err) != xerrors.CodeUnknownImage {
		t.Fatalf("expected UNKNOWN_IMAGE, got %v", err)
	}
	if ok, err := svc.Available(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("unexpected availability ok=%v err=%v", ok, err)
	}
	if err := svc.Consume(context.Background(), "nope", "p"); xerrors.CodeOf(err) != xerrors.CodeUnknownImage {
		t.Fatalf("expected UNKNOWN_IMAGE, got %v", err)
	}
}
