package gridclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"PixelBoard/pkg/x402"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Image generation can be slow, so it is longer than a typical API call.
const DefaultHTTPTimeout = 90 * time.Second

// Payer produces an X-PAYMENT header value for a payment requirement.
type Payer interface {
	PaymentHeader(ctx context.Context, req x402.PaymentRequirements) (string, error)
}

// Client wraps the HTTP interactions with the PixelBoard API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	payer      Payer
	maxPayment *big.Int
	network    string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPayer enables automatic payment of 402 responses.
func WithPayer(p Payer) Option {
	return func(c *Client) { c.payer = p }
}

// WithMaxPayment caps a single payment, in the asset's atomic units.
func WithMaxPayment(atomic int64) Option {
	return func(c *Client) {
		if atomic > 0 {
			c.maxPayment = big.NewInt(atomic)
		}
	}
}

// WithNetwork restricts payments to one network.
func WithNetwork(network string) Option {
	return func(c *Client) { c.network = network }
}

// NewClient instantiates a client for the PixelBoard API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	c := &Client{baseURL: parsed, httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Stats fetches the aggregate sales figures.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.getJSON(ctx, "/api/stats", nil, &out)
	return out, err
}

// Pixels fetches every painted cell.
func (c *Client) Pixels(ctx context.Context) (PixelsSnapshot, error) {
	var out PixelsSnapshot
	err := c.getJSON(ctx, "/api/pixels", nil, &out)
	return out, err
}

// Pixel checks whether a coordinate is still available.
func (c *Client) Pixel(ctx context.Context, x, y int) (Availability, error) {
	var out Availability
	err := c.getJSON(ctx, fmt.Sprintf("/api/pixels/%d/%d", x, y), nil, &out)
	return out, err
}

// PaintPixel buys and paints one coordinate.
func (c *Client) PaintPixel(ctx context.Context, req PaintRequest) (PaintResult, error) {
	var out PaintResult
	settle, err := c.postPaid(ctx, "/api/pixels", req, &out)
	out.Settlement = settle
	return out, err
}

// PlaceAd buys a rectangle and attaches a generated image to it.
func (c *Client) PlaceAd(ctx context.Context, req AdRequest) (AdResult, error) {
	var out AdResult
	settle, err := c.postPaid(ctx, "/api/ads", req, &out.Placement)
	out.Settlement = settle
	return out, err
}

// Ads lists placements in creation order.
func (c *Client) Ads(ctx context.Context) ([]Placement, error) {
	var out struct {
		Placements []Placement `json:"placements"`
	}
	err := c.getJSON(ctx, "/api/ads", nil, &out)
	return out.Placements, err
}

// FindSpace asks the server for a vacant, aligned rectangle.
func (c *Client) FindSpace(ctx context.Context, width, height int) (Space, error) {
	var out Space
	query := url.Values{}
	query.Set("width", strconv.Itoa(width))
	query.Set("height", strconv.Itoa(height))
	err := c.getJSON(ctx, "/api/space", query, &out)
	return out, err
}

// GenerateImage creates an image handle usable by PlaceAd.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (ImageHandle, error) {
	var out ImageHandle
	_, err := c.postPaid(ctx, "/api/images", req, &out)
	return out, err
}

// Image downloads the bytes behind an image handle.
func (c *Client) Image(ctx context.Context, id string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/images/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", decodeAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// postPaid sends a JSON body and, when the server answers 402, pays once and
// retries with the X-PAYMENT header.
func (c *Client) postPaid(ctx context.Context, endpoint string, payload, out any) (*x402.SettleResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.post(ctx, endpoint, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		defer resp.Body.Close()
		return nil, decodeResponse(resp, out)
	}

	required, err := decodePaymentRequired(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	header, err := c.pay(ctx, required)
	if err != nil {
		return nil, err
	}

	resp, err = c.post(ctx, endpoint, body, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPaymentRequired {
		again, err := decodePaymentRequired(resp)
		if err != nil {
			return nil, err
		}
		return nil, &PaymentError{Reason: again.Error, Accepts: again.Accepts}
	}
	if err := decodeResponse(resp, out); err != nil {
		return nil, err
	}
	if raw := resp.Header.Get(x402.HeaderPaymentResponse); raw != "" {
		settle, err := x402.DecodeSettle(raw)
		if err != nil {
			return nil, err
		}
		return settle, nil
	}
	return nil, nil
}

func (c *Client) pay(ctx context.Context, required *x402.PaymentRequiredResponse) (string, error) {
	if c.payer == nil {
		return "", &PaymentError{Reason: "no payer configured", Accepts: required.Accepts}
	}
	choice, ok := x402.Select(required.Accepts, x402.SchemeExact, c.network)
	if !ok {
		return "", &PaymentError{Reason: "no acceptable payment requirement", Accepts: required.Accepts}
	}
	amount, ok := new(big.Int).SetString(choice.MaxAmountRequired, 10)
	if !ok {
		return "", &PaymentError{Reason: fmt.Sprintf("invalid amount %q", choice.MaxAmountRequired), Accepts: required.Accepts}
	}
	if c.maxPayment != nil && amount.Cmp(c.maxPayment) > 0 {
		return "", &PaymentError{
			Reason:  fmt.Sprintf("amount %s exceeds the configured maximum %s", amount, c.maxPayment),
			Accepts: required.Accepts,
		}
	}
	header, err := c.payer.PaymentHeader(ctx, choice)
	if err != nil {
		return "", fmt.Errorf("create payment: %w", err)
	}
	return header, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte, payment string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if payment != "" {
		req.Header.Set(x402.HeaderPayment, payment)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if query != nil {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodePaymentRequired(resp *http.Response) (*x402.PaymentRequiredResponse, error) {
	var required x402.PaymentRequiredResponse
	if err := json.NewDecoder(resp.Body).Decode(&required); err != nil {
		return nil, fmt.Errorf("decode payment requirements: %w", err)
	}
	if len(required.Accepts) == 0 {
		return nil, &PaymentError{Reason: required.Error}
	}
	return &required, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if len(data) > 0 && json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		envelope.Error.StatusCode = resp.StatusCode
		return envelope.Error
	}
	apiErr.Message = string(bytes.TrimSpace(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
