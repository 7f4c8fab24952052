package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PixelBoard/internal/circuitbreaker"
	"PixelBoard/pkg/x402"
)

const (
	defaultFacilitatorURL     = "https://x402.org/facilitator"
	defaultFacilitatorTimeout = 15 * time.Second
)

// Facilitator verifies and settles payments on behalf of the resource server.
type Facilitator interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// FacilitatorConfig describes the remote facilitator service.
type FacilitatorConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// HTTPFacilitator calls a facilitator over HTTP. Calls go through a circuit
// breaker so an outage fails fast instead of stalling every paid request.
type HTTPFacilitator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewHTTPFacilitator builds a facilitator client.
func NewHTTPFacilitator(cfg FacilitatorConfig, breaker *circuitbreaker.Breaker) *HTTPFacilitator {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		baseURL = defaultFacilitatorURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFacilitatorTimeout
	}
	if breaker == nil {
		breaker = circuitbreaker.New("facilitator", 5, 30*time.Second)
	}
	return &HTTPFacilitator{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Verify implements Facilitator.
func (f *HTTPFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var out x402.VerifyResponse
	if err := f.call(ctx, "/verify", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle implements Facilitator.
func (f *HTTPFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var out x402.SettleResponse
	if err := f.call(ctx, "/settle", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *HTTPFacilitator) call(ctx context.Context, path string, payload x402.PaymentPayload, req x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(x402.FacilitatorRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return fmt.Errorf("encode facilitator request: %w", err)
	}
	return f.breaker.Execute(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build facilitator request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if f.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+f.apiKey)
		}
		resp, err := f.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("facilitator %s: %w", path, err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read facilitator response: %w", err)
		}
		// 400 carries a structured verdict (isValid=false / success=false).
		if resp.StatusCode >= http.StatusInternalServerError || (resp.StatusCode >= 300 && resp.StatusCode != http.StatusBadRequest) {
			return fmt.Errorf("facilitator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode facilitator response: %w", err)
		}
		return nil
	})
}

var _ Facilitator = (*HTTPFacilitator)(nil)
