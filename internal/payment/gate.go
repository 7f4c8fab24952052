package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/internal/grid"
	"PixelBoard/internal/observability/metrics"
	"PixelBoard/pkg/logger"
	"PixelBoard/pkg/x402"
)

const maxBodyBytes = 1 << 20

// Quote is the price of one request.
type Quote struct {
	Amount      grid.Amount
	Description string
}

// PriceFunc computes the price of a request from its buffered body. A
// returned error is written to the client without asking for payment.
type PriceFunc func(r *http.Request, body []byte) (Quote, error)

// ErrorWriter renders structured errors.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Config describes what the gate asks payers for.
type Config struct {
	Enabled           bool
	Network           string
	PayTo             string
	Asset             string
	TokenName         string
	TokenVersion      string
	MaxTimeoutSeconds int
	// PublicURL overrides the scheme and host used in the resource field.
	PublicURL string
}

// Gate is an HTTP middleware that enforces x402 payments on selected routes.
type Gate struct {
	cfg         Config
	facilitator Facilitator
	writeError  ErrorWriter
}

// Option configures a Gate.
type Option func(*Gate)

// WithErrorWriter replaces the default JSON error renderer.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(g *Gate) {
		if fn != nil {
			g.writeError = fn
		}
	}
}

// NewGate builds a gate. Network defaults fill in the asset and EIP-712
// domain when they are not configured explicitly.
func NewGate(cfg Config, facilitator Facilitator, opts ...Option) (*Gate, error) {
	if cfg.Network == "" {
		cfg.Network = "base-sepolia"
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = 60
	}
	if cfg.Enabled {
		if strings.TrimSpace(cfg.PayTo) == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "payment.pay_to is required when payments are enabled")
		}
		if facilitator == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "facilitator is required when payments are enabled")
		}
		network, err := x402.LookupNetwork(cfg.Network)
		if err == nil {
			if cfg.Asset == "" {
				cfg.Asset = network.USDC
			}
			if cfg.TokenName == "" {
				cfg.TokenName = network.TokenName
			}
			if cfg.TokenVersion == "" {
				cfg.TokenVersion = network.Version
			}
		} else if cfg.Asset == "" {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "payment.asset is required for unknown networks")
		}
	}
	g := &Gate{cfg: cfg, facilitator: facilitator, writeError: defaultErrorWriter}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Enabled reports whether the gate charges for requests.
func (g *Gate) Enabled() bool { return g.cfg.Enabled }

// Requirements builds the payment requirements for a quote.
func (g *Gate) Requirements(r *http.Request, quote Quote) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           g.cfg.Network,
		MaxAmountRequired: quote.Amount.Atomic(),
		Resource:          g.resourceURL(r),
		Description:       quote.Description,
		MimeType:          "application/json",
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: g.cfg.MaxTimeoutSeconds,
		Asset:             g.cfg.Asset,
		Extra:             map[string]string{"name": g.cfg.TokenName, "version": g.cfg.TokenVersion},
	}
}

func (g *Gate) resourceURL(r *http.Request) string {
	if base := strings.TrimRight(g.cfg.PublicURL, "/"); base != "" {
		return base + r.URL.Path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// Protect returns a middleware charging the price computed by price. The
// wrapped handler runs only after the facilitator verifies the payment, and
// settlement happens only when the handler answers with a status below 400.
func (g *Gate) Protect(route string, price PriceFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				g.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidInput, err, "failed to read request body"))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			quote, err := price(r, body)
			if err != nil {
				g.writeError(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !g.cfg.Enabled {
				metrics.ObservePayment(route, "free")
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, route, quote, next)
		})
	}
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, route string, quote Quote, next http.Handler) {
	requirements := g.Requirements(r, quote)
	log := logger.L().With("route", route, "amount", requirements.MaxAmountRequired)

	header := r.Header.Get(x402.HeaderPayment)
	if header == "" {
		metrics.ObservePayment(route, "required")
		g.paymentRequired(w, requirements, "X-PAYMENT header is required", "")
		return
	}
	payload, err := x402.DecodePayment(header)
	if err != nil {
		metrics.ObservePayment(route, "invalid")
		g.paymentRequired(w, requirements, err.Error(), "")
		return
	}
	if !strings.EqualFold(payload.Scheme, requirements.Scheme) || !strings.EqualFold(payload.Network, requirements.Network) {
		metrics.ObservePayment(route, "invalid")
		g.paymentRequired(w, requirements,
			fmt.Sprintf("unsupported scheme/network %s/%s", payload.Scheme, payload.Network), "")
		return
	}

	verified, err := g.facilitator.Verify(r.Context(), *payload, requirements)
	if err != nil {
		metrics.ObservePayment(route, "upstream_error")
		log.Error("支付校验失败", "error", err)
		g.writeError(w, r, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "payment verification unavailable"))
		return
	}
	if !verified.IsValid {
		metrics.ObservePayment(route, "invalid")
		reason := verified.InvalidReason
		if reason == "" {
			reason = "payment rejected by facilitator"
		}
		g.paymentRequired(w, requirements, reason, verified.Payer)
		return
	}

	payer := verified.Payer
	if payer == "" {
		payer = payload.Payload.Authorization.From
	}
	buf := newBufferedWriter()
	next.ServeHTTP(buf, r.WithContext(WithPayer(r.Context(), payer)))

	if buf.status >= http.StatusBadRequest {
		metrics.ObservePayment(route, "skipped")
		log.Info("请求失败，跳过结算", "payer", payer, "status", buf.status)
		buf.flushTo(w)
		return
	}

	settled, err := g.facilitator.Settle(r.Context(), *payload, requirements)
	if err != nil {
		metrics.ObservePayment(route, "upstream_error")
		log.Error("支付结算失败", "payer", payer, "error", err)
		g.writeError(w, r, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "payment settlement unavailable"))
		return
	}
	if !settled.Success {
		metrics.ObservePayment(route, "settle_failed")
		log.Warn("支付结算被拒绝", "payer", payer, "reason", settled.ErrorReason)
		g.paymentRequired(w, requirements, settled.ErrorReason, payer)
		return
	}

	metrics.ObservePayment(route, "settled")
	logger.Audit().Info("支付已结算",
		"route", route,
		"payer", payer,
		"amount", requirements.MaxAmountRequired,
		"network", settled.Network,
		"transaction", settled.Transaction)

	if encoded, err := x402.EncodeSettle(*settled); err == nil {
		buf.Header().Set(x402.HeaderPaymentResponse, encoded)
		buf.Header().Add("Access-Control-Expose-Headers", x402.HeaderPaymentResponse)
	}
	buf.flushTo(w)
}

func (g *Gate) paymentRequired(w http.ResponseWriter, req x402.PaymentRequirements, reason, payer string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(x402.PaymentRequiredResponse{
		X402Version: x402.Version,
		Error:       reason,
		Accepts:     []x402.PaymentRequirements{req},
		Payer:       payer,
	})
}

func defaultErrorWriter(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(xerrors.HTTPStatusOf(err))
	_ = json.NewEncoder(w).Encode(map[string]any{"error": xerrors.PayloadOf(err)})
}

type payerKey struct{}

// WithPayer stores the verified payer address in ctx.
func WithPayer(ctx context.Context, payer string) context.Context {
	return context.WithValue(ctx, payerKey{}, payer)
}

// PayerFrom returns the verified payer address, if any.
func PayerFrom(ctx context.Context) string {
	payer, _ := ctx.Value(payerKey{}).(string)
	return payer
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.wrote {
		return
	}
	b.status = status
	b.wrote = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
