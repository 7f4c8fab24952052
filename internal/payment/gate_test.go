package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/pkg/x402"
)

type fakeFacilitator struct {
	mu        sync.Mutex
	verify    x402.VerifyResponse
	verifyErr error
	settle    x402.SettleResponse
	verifies  int
	settles   int
	lastReq   x402.PaymentRequirements
}

func (f *fakeFacilitator) Verify(_ context.Context, _ x402.PaymentPayload, req x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	f.lastReq = req
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	resp := f.verify
	return &resp, nil
}

func (f *fakeFacilitator) Settle(context.Context, x402.PaymentPayload, x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settles++
	resp := f.settle
	return &resp, nil
}

func newTestGate(t *testing.T, fac Facilitator) *Gate {
	t.Helper()
	gate, err := NewGate(Config{Enabled: true, PayTo: "0x00000000000000000000000000000000000000aa"}, fac)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	header, err := x402.EncodePayment(x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		Payload: x402.ExactEVMPayload{
			Signature:     "0xsig",
			Authorization: x402.Authorization{From: "0xpayer", Value: "1000"},
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return header
}

func okHandler(status int, called *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"payer":"` + PayerFrom(r.Context()) + `"}`))
	})
}

func TestMissingHeaderReturnsRequirements(t *testing.T) {
	fac := &fakeFacilitator{}
	gate := newTestGate(t, fac)
	calls := 0
	handler := gate.Protect("/api/pixels", func(*http.Request, []byte) (Quote, error) {
		return Quote{Amount: 1000, Description: "paint one cell"}, nil
	})(okHandler(http.StatusCreated, &calls))

	req := httptest.NewRequest(http.MethodPost, "http://board.test/api/pixels", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	var body x402.PaymentRequiredResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Accepts) != 1 {
		t.Fatalf("expected one requirement, got %+v", body)
	}
	got := body.Accepts[0]
	if got.MaxAmountRequired != "1000" || got.Network != "base-sepolia" || got.Resource != "http://board.test/api/pixels" {
		t.Fatalf("unexpected requirement %+v", got)
	}
	if got.Asset == "" || got.Extra["name"] != "USDC" || got.Extra["version"] != "2" {
		t.Fatalf("expected network defaults, got %+v", got)
	}
	if calls != 0 || fac.verifies != 0 {
		t.Fatalf("handler and facilitator must not run without payment")
	}
}

func TestPaidRequestSettlesOnSuccess(t *testing.T) {
	fac := &fakeFacilitator{
		verify: x402.VerifyResponse{IsValid: true, Payer: "0xpayer"},
		settle: x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "base-sepolia", Payer: "0xpayer"},
	}
	gate := newTestGate(t, fac)
	calls := 0
	handler := gate.Protect("/api/pixels", func(*http.Request, []byte) (Quote, error) {
		return Quote{Amount: 1000}, nil
	})(okHandler(http.StatusCreated, &calls))

	req := httptest.NewRequest(http.MethodPost, "/api/pixels", strings.NewReader(`{}`))
	req.Header.Set(x402.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls != 1 || fac.settles != 1 {
		t.Fatalf("expected one handler call and one settlement, got %d/%d", calls, fac.settles)
	}
	settled, err := x402.DecodeSettle(rec.Header().Get(x402.HeaderPaymentResponse))
	if err != nil || settled.Transaction != "0xtx" {
		t.Fatalf("unexpected settlement header %+v %v", settled, err)
	}
	if !strings.Contains(rec.Body.String(), "0xpayer") {
		t.Fatalf("handler should see the verified payer, body=%s", rec.Body.String())
	}
}

func TestFailedHandlerIsNotSettled(t *testing.T) {
	fac := &fakeFacilitator{verify: x402.VerifyResponse{IsValid: true}, settle: x402.SettleResponse{Success: true}}
	gate := newTestGate(t, fac)
	calls := 0
	handler := gate.Protect("/api/ads", func(*http.Request, []byte) (Quote, error) {
		return Quote{Amount: 400000}, nil
	})(okHandler(http.StatusBadRequest, &calls))

	req := httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(`{}`))
	req.Header.Set(x402.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected handler status to pass through, got %d", rec.Code)
	}
	if fac.settles != 0 {
		t.Fatalf("failed requests must never be settled")
	}
	if rec.Header().Get(x402.HeaderPaymentResponse) != "" {
		t.Fatalf("no settlement header expected")
	}
}

func TestInvalidPaymentAndFacilitatorOutage(t *testing.T) {
	fac := &fakeFacilitator{verify: x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"}}
	gate := newTestGate(t, fac)
	calls := 0
	handler := gate.Protect("/api/pixels", func(*http.Request, []byte) (Quote, error) {
		return Quote{Amount: 1000}, nil
	})(okHandler(http.StatusCreated, &calls))

	req := httptest.NewRequest(http.MethodPost, "/api/pixels", nil)
	req.Header.Set(x402.HeaderPayment, paymentHeader(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusPaymentRequired || !strings.Contains(rec.Body.String(), "insufficient_funds") {
		t.Fatalf("expected 402 with reason, got %d %s", rec.Code, rec.Body.String())
	}

	fac.verifyErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/pixels", nil)
	req.Header.Set(x402.HeaderPayment, paymentHeader(t))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), string(xerrors.CodeUpstreamFailure)) {
		t.Fatalf("expected 502 UPSTREAM_FAILURE, got %d %s", rec.Code, rec.Body.String())
	}
	if calls != 0 {
		t.Fatalf("handler must not run without a verified payment")
	}
}

func TestPriceErrorSkipsPaymentAndDisabledGateIsFree(t *testing.T) {
	fac := &fakeFacilitator{}
	gate := newTestGate(t, fac)
	calls := 0
	handler := gate.Protect("/api/ads", func(*http.Request, []byte) (Quote, error) {
		return Quote{}, xerrors.New(xerrors.CodeMisaligned, "width must be a multiple of 10")
	})(okHandler(http.StatusCreated, &calls))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before any payment, got %d", rec.Code)
	}

	free, err := NewGate(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	var seenBody string
	freeHandler := free.Protect("/api/pixels", func(*http.Request, []byte) (Quote, error) {
		return Quote{Amount: 1000}, nil
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seenBody = string(raw)
		w.WriteHeader(http.StatusCreated)
	}))
	rec = httptest.NewRecorder()
	freeHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pixels", strings.NewReader(`{"x":1}`)))
	if rec.Code != http.StatusCreated || seenBody != `{"x":1}` {
		t.Fatalf("disabled gate should pass through with body intact, got %d %q", rec.Code, seenBody)
	}
}

func TestNewGateRequiresPayTo(t *testing.T) {
	if _, err := NewGate(Config{Enabled: true}, &fakeFacilitator{}); err == nil {
		t.Fatalf("expected error without pay_to")
	}
}
