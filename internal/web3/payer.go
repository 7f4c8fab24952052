package web3

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"PixelBoard/pkg/x402"
)

// validAfterSkew backdates authorizations to tolerate clock drift between
// the payer and the chain.
const validAfterSkew = 10 * time.Minute

// Payer signs EIP-3009 TransferWithAuthorization messages and renders them
// as X-PAYMENT headers for the "exact" scheme.
type Payer struct {
	wallet *Wallet
	now    func() time.Time
}

// NewPayer creates a payer for wallet.
func NewPayer(wallet *Wallet) *Payer {
	return &Payer{wallet: wallet, now: time.Now}
}

// Address returns the paying address.
func (p *Payer) Address() string {
	return p.wallet.Address().Hex()
}

// PaymentHeader implements the marketplace client's Payer interface.
func (p *Payer) PaymentHeader(_ context.Context, req x402.PaymentRequirements) (string, error) {
	payload, err := p.Authorize(req)
	if err != nil {
		return "", err
	}
	return x402.EncodePayment(*payload)
}

// Authorize builds and signs the payment payload for req.
func (p *Payer) Authorize(req x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if req.Scheme != x402.SchemeExact {
		return nil, fmt.Errorf("unsupported scheme %q", req.Scheme)
	}
	network, err := x402.LookupNetwork(req.Network)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.PayTo) || !common.IsHexAddress(req.Asset) {
		return nil, errors.New("payTo and asset must be hex addresses")
	}
	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", req.MaxAmountRequired)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	now := p.now()
	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	auth := x402.Authorization{
		From:        p.wallet.Address().Hex(),
		To:          common.HexToAddress(req.PayTo).Hex(),
		Value:       value.String(),
		ValidAfter:  strconv.FormatInt(now.Add(-validAfterSkew).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(time.Duration(timeout)*time.Second).Unix(), 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	name, version := req.Extra["name"], req.Extra["version"]
	if name == "" {
		name = network.TokenName
	}
	if version == "" {
		version = network.Version
	}
	hash, err := TransferWithAuthorizationHash(auth, name, version, network.ChainID, common.HexToAddress(req.Asset))
	if err != nil {
		return nil, err
	}
	sig, err := p.wallet.SignHash(hash)
	if err != nil {
		return nil, err
	}
	return &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     network.Name,
		Payload: x402.ExactEVMPayload{
			Signature:     hexutil.Encode(sig),
			Authorization: auth,
		},
	}, nil
}

// TransferWithAuthorizationHash returns the EIP-712 digest of an EIP-3009
// authorization for the token deployed at verifyingContract.
func TransferWithAuthorizationHash(auth x402.Authorization, name, version string, chainID *big.Int, verifyingContract common.Address) ([]byte, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return hash, nil
}
