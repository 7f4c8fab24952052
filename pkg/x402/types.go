package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// Version is the protocol version carried in every message.
	Version = 1
	// SchemeExact transfers exactly the required amount.
	SchemeExact = "exact"
	// HeaderPayment carries the base64 payment payload on the retried request.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the base64 settlement result.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	OutputSchema      json.RawMessage   `json:"outputSchema,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the JSON body of a 402 response.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Payer       string                `json:"payer,omitempty"`
}

// Authorization is the EIP-3009 TransferWithAuthorization message.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEVMPayload is the scheme-specific payload for "exact" on EVM networks.
type ExactEVMPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the decoded content of the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEVMPayload `json:"payload"`
}

// FacilitatorRequest is the body of /verify and /settle calls.
type FacilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is returned by the facilitator's /verify endpoint.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is returned by /settle and echoed in X-PAYMENT-RESPONSE.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// EncodePayment renders a payload for the X-PAYMENT header.
func EncodePayment(p PaymentPayload) (string, error) {
	return encode(p)
}

// DecodePayment parses an X-PAYMENT header value.
func DecodePayment(header string) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := decode(header, &p); err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	if p.X402Version != Version {
		return nil, fmt.Errorf("unsupported x402 version %d", p.X402Version)
	}
	if p.Scheme == "" || p.Network == "" {
		return nil, errors.New("payment header is missing scheme or network")
	}
	return &p, nil
}

// EncodeSettle renders a settlement for the X-PAYMENT-RESPONSE header.
func EncodeSettle(s SettleResponse) (string, error) {
	return encode(s)
}

// DecodeSettle parses an X-PAYMENT-RESPONSE header value.
func DecodeSettle(header string) (*SettleResponse, error) {
	var s SettleResponse
	if err := decode(header, &s); err != nil {
		return nil, fmt.Errorf("decode payment response header: %w", err)
	}
	return &s, nil
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decode(header string, v any) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errors.New("empty header")
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		// Some clients send unpadded or URL-safe base64.
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
		if err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

// Select returns the first requirement matching scheme and, when non-empty,
// network.
func Select(accepts []PaymentRequirements, scheme, network string) (PaymentRequirements, bool) {
	for _, req := range accepts {
		if !strings.EqualFold(req.Scheme, scheme) {
			continue
		}
		if network != "" && !strings.EqualFold(req.Network, network) {
			continue
		}
		return req, true
	}
	return PaymentRequirements{}, false
}
