package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/events"
	"PixelBoard/internal/grid"
	"PixelBoard/internal/imagegen"
	"PixelBoard/internal/images"
	"PixelBoard/internal/payment"
	"PixelBoard/internal/placement"
	"PixelBoard/internal/web3"
	"PixelBoard/pkg/x402"
	"PixelBoard/sdk/go/gridclient"
)

const testUnitPrice grid.Amount = 1000

type fakeFacilitator struct {
	mu       sync.Mutex
	verifies int
	settles  int
}

func (f *fakeFacilitator) Verify(_ context.Context, payload x402.PaymentPayload, _ x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	return &x402.VerifyResponse{IsValid: true, Payer: payload.Payload.Authorization.From}, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settles++
	return &x402.SettleResponse{Success: true, Transaction: "0xfeed", Network: req.Network, Payer: payload.Payload.Authorization.From}, nil
}

func (f *fakeFacilitator) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifies, f.settles
}

type testEnv struct {
	server *Server
	store  *grid.Store
	ledger *placement.Ledger
	hub    *events.Hub
	fac    *fakeFacilitator
}

func newTestEnv(t *testing.T, paid bool, limiter *RateLimiter) *testEnv {
	t.Helper()
	store := grid.NewStore(testUnitPrice)
	hub := events.NewHub(16)
	imgs := images.NewService(images.NewMemoryStore(), imagegen.Placeholder{}, images.WithPublisher(hub))
	ledger := placement.NewLedger(store, imgs, placement.WithPublisher(hub))

	fac := &fakeFacilitator{}
	gate, err := payment.NewGate(payment.Config{
		Enabled: paid,
		PayTo:   "0x00000000000000000000000000000000000000aa",
	}, fac, payment.WithErrorWriter(writeError))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	srv, err := NewServer(":0", Dependencies{
		Store:   store,
		Ledger:  ledger,
		Images:  imgs,
		Gate:    gate,
		Hub:     hub,
		Limiter: limiter,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return &testEnv{server: srv, store: store, ledger: ledger, hub: hub, fac: fac}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) xerrors.Payload {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return envelope.Error
}

func TestPaintAndReadBack(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(t, http.MethodPost, "/api/pixels", `{"x":5,"y":7,"color":"ff0000","owner":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("paint: status %d body %s", rec.Code, rec.Body.String())
	}
	var painted paintResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &painted); err != nil {
		t.Fatalf("decode paint: %v", err)
	}
	if !painted.IsNew || painted.Cell.Color != "#FF0000" || painted.Cell.Owner != "alice" {
		t.Fatalf("unexpected paint response %+v", painted)
	}

	rec = env.do(t, http.MethodGet, "/api/pixels/5/7", "")
	var avail availabilityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &avail); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if avail.Available || avail.Cell == nil || avail.Cell.Color != "#FF0000" {
		t.Fatalf("unexpected availability %+v", avail)
	}

	rec = env.do(t, http.MethodGet, "/api/stats", "")
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.CellsSold != 1 || stats.RevenueAtomic != int64(testUnitPrice) || stats.TotalCells != 1_000_000 || stats.UnitPriceUSD != "0.001" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestValidationErrorsUseEnvelope(t *testing.T) {
	env := newTestEnv(t, false, nil)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   xerrors.Code
		field  string
	}{
		{"bad color", http.MethodPost, "/api/pixels", `{"x":1,"y":1,"color":"#12"}`, http.StatusBadRequest, xerrors.CodeInvalidColor, "color"},
		{"pixel out of bounds", http.MethodGet, "/api/pixels/1000/0", "", http.StatusBadRequest, xerrors.CodeOutOfBounds, "x"},
		{"non numeric coordinate", http.MethodGet, "/api/pixels/a/0", "", http.StatusBadRequest, xerrors.CodeInvalidInput, "x"},
		{"string width", http.MethodPost, "/api/ads", `{"x":0,"y":0,"width":"wide","height":10}`, http.StatusBadRequest, xerrors.CodeInvalidInput, "width"},
		{"too small", http.MethodPost, "/api/ads", `{"x":0,"y":0,"width":5,"height":10}`, http.StatusBadRequest, xerrors.CodeTooSmall, "width"},
		{"too large", http.MethodPost, "/api/ads", `{"x":0,"y":0,"width":10,"height":110}`, http.StatusBadRequest, xerrors.CodeTooLarge, "height"},
		{"misaligned", http.MethodPost, "/api/ads", `{"x":0,"y":0,"width":15,"height":10}`, http.StatusBadRequest, xerrors.CodeMisaligned, "width"},
		{"ad out of bounds", http.MethodPost, "/api/ads", `{"x":995,"y":0,"width":10,"height":10}`, http.StatusBadRequest, xerrors.CodeOutOfBounds, "x"},
		{"unknown image", http.MethodPost, "/api/ads", `{"x":0,"y":0,"width":10,"height":10,"imageId":"nope","link":"https://a.example","title":"A"}`, http.StatusNotFound, xerrors.CodeUnknownImage, "imageId"},
		{"space misaligned", http.MethodGet, "/api/space?width=25&height=10", "", http.StatusBadRequest, xerrors.CodeMisaligned, "width"},
		{"unknown image bytes", http.MethodGet, "/api/images/missing", "", http.StatusNotFound, xerrors.CodeUnknownImage, "imageId"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.target, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
			payload := decodeError(t, rec)
			if payload.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, payload.Code)
			}
			if payload.Details["field"] != tc.field {
				t.Fatalf("expected field %s, got %+v", tc.field, payload.Details)
			}
		})
	}

	if env.store.Stats().CellsSold != 0 {
		t.Fatalf("rejected requests must not change the grid")
	}
}

func TestInvalidAdIsRejectedBeforePayment(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodPost, "/api/ads", `{"x":0,"y":0,"width":15,"height":10,"imageId":"x","link":"https://a.example","title":"A"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before payment, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/pixels", `{"x":1,"y":1,"color":"#00FF00"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for a valid unpaid paint, got %d", rec.Code)
	}
	var required x402.PaymentRequiredResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &required); err != nil {
		t.Fatalf("decode 402: %v", err)
	}
	if len(required.Accepts) != 1 || required.Accepts[0].MaxAmountRequired != "1000" {
		t.Fatalf("unexpected requirements %+v", required.Accepts)
	}
	if verifies, _ := env.fac.counts(); verifies != 0 {
		t.Fatalf("facilitator must not be called without X-PAYMENT")
	}
}

func TestPaidPlacementThroughClient(t *testing.T) {
	env := newTestEnv(t, true, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payer := web3.NewPayer(web3.NewWallet(key))
	client, err := gridclient.NewClient(ts.URL, gridclient.WithPayer(payer), gridclient.WithMaxPayment(1_000_000))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	img, err := client.GenerateImage(ctx, gridclient.ImageRequest{Prompt: "a neon coffee cup", Width: 20, Height: 20})
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if img.URL != "/api/images/"+img.ID || img.ContentType != "image/png" {
		t.Fatalf("unexpected image handle %+v", img)
	}
	data, contentType, err := client.Image(ctx, img.ID)
	if err != nil || contentType != "image/png" || len(data) == 0 {
		t.Fatalf("fetch image: type=%s len=%d err=%v", contentType, len(data), err)
	}

	space, err := client.FindSpace(ctx, 20, 20)
	if err != nil || !space.Found {
		t.Fatalf("find space: %+v err=%v", space, err)
	}
	ad, err := client.PlaceAd(ctx, gridclient.AdRequest{
		X: space.X, Y: space.Y, Width: 20, Height: 20,
		ImageID: img.ID, Link: "https://nebulabrew.example", Title: "NebulaBrew",
	})
	if err != nil {
		t.Fatalf("place ad: %v", err)
	}
	if ad.Settlement == nil || ad.Settlement.Transaction != "0xfeed" {
		t.Fatalf("expected settlement, got %+v", ad.Settlement)
	}
	if ad.Owner != payer.Address() || ad.PixelCount != 400 || ad.TotalCost != 400_000 || ad.ImageURL != img.URL {
		t.Fatalf("unexpected placement %+v", ad.Placement)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CellsSold != 400 || stats.RevenueAtomic != 400_000 || stats.Placements != 1 || stats.RevenueUSD != "0.4" {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// 图片只能使用一次，第二次在报价阶段就被拒绝，不会产生付款。
	_, err = client.PlaceAd(ctx, gridclient.AdRequest{
		X: 0, Y: 0, Width: 20, Height: 20,
		ImageID: img.ID, Link: "https://nebulabrew.example", Title: "Again",
	})
	var apiErr *gridclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != string(xerrors.CodeUnknownImage) {
		t.Fatalf("expected UNKNOWN_IMAGE, got %v", err)
	}
	if verifies, settles := env.fac.counts(); verifies != 1 || settles != 1 {
		t.Fatalf("expected exactly one verify and settle, got %d/%d", verifies, settles)
	}

	ads, err := client.Ads(ctx)
	if err != nil || len(ads) != 1 || ads[0].ImageURL != img.URL {
		t.Fatalf("list ads: %+v err=%v", ads, err)
	}
}

func TestImageGenerationIsRateLimited(t *testing.T) {
	env := newTestEnv(t, false, NewRateLimiter(1, 1))

	body := `{"prompt":"rocket","width":10,"height":10}`
	if rec := env.do(t, http.MethodPost, "/api/images", body); rec.Code != http.StatusCreated {
		t.Fatalf("first request: status %d body %s", rec.Code, rec.Body.String())
	}
	rec := env.do(t, http.MethodPost, "/api/images", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if payload := decodeError(t, rec); payload.Code != xerrors.CodeRateLimited || !payload.Retryable {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestEventStreamDeliversPaints(t *testing.T) {
	env := newTestEnv(t, false, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("expected connected comment, got %q err=%v", line, err)
	}

	paint, err := http.Post(ts.URL+"/api/pixels", "application/json",
		bytes.NewBufferString(`{"x":3,"y":4,"color":"#0000FF"}`))
	if err != nil {
		t.Fatalf("paint: %v", err)
	}
	paint.Body.Close()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.TrimSpace(line) == "event: "+string(events.TypeCellPainted) {
			data, err := reader.ReadString('\n')
			if err != nil || !strings.Contains(data, `"color":"#0000FF"`) {
				t.Fatalf("unexpected event data %q err=%v", data, err)
			}
			return
		}
	}
}

func TestHealthAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t, false, nil)
	if rec := env.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/nothing", "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != xerrors.CodeNotFound {
		t.Fatalf("unexpected unknown-route response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := NewServer(":0", Dependencies{}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
