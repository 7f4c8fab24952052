package web3

import (
	"context"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"PixelBoard/pkg/x402"
)

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "400000",
		PayTo:             "0x00000000000000000000000000000000000000aa",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		MaxTimeoutSeconds: 120,
		Extra:             map[string]string{"name": "USDC", "version": "2"},
	}
}

func TestPayerSignatureRecoversWalletAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet := NewWallet(key)
	payer := NewPayer(wallet)
	fixed := time.Unix(1_700_000_000, 0)
	payer.now = func() time.Time { return fixed }

	payload, err := payer.Authorize(testRequirements())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	auth := payload.Payload.Authorization
	if auth.From != wallet.Address().Hex() || auth.Value != "400000" {
		t.Fatalf("unexpected authorization %+v", auth)
	}
	if auth.ValidBefore != strconv.FormatInt(fixed.Unix()+120, 10) {
		t.Fatalf("unexpected validBefore %s", auth.ValidBefore)
	}
	if nonce := hexutil.MustDecode(auth.Nonce); len(nonce) != 32 {
		t.Fatalf("nonce must be 32 bytes, got %d", len(nonce))
	}

	hash, err := TransferWithAuthorizationHash(auth, "USDC", "2", big.NewInt(84532),
		common.HexToAddress(testRequirements().Asset))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig := hexutil.MustDecode(payload.Payload.Signature)
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature format %x", sig)
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != wallet.Address() {
		t.Fatalf("signature does not recover to the wallet address")
	}
}

func TestPaymentHeaderDecodes(t *testing.T) {
	wallet, err := WalletFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	header, err := NewPayer(wallet).PaymentHeader(context.Background(), testRequirements())
	if err != nil {
		t.Fatalf("payment header: %v", err)
	}
	payload, err := x402.DecodePayment(header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Network != "base-sepolia" || payload.Payload.Authorization.To != common.HexToAddress(testRequirements().PayTo).Hex() {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAuthorizeRejectsBadRequirements(t *testing.T) {
	key, _ := crypto.GenerateKey()
	payer := NewPayer(NewWallet(key))

	req := testRequirements()
	req.Network = "unknown-net"
	if _, err := payer.Authorize(req); err == nil {
		t.Fatalf("expected unknown network error")
	}
	req = testRequirements()
	req.MaxAmountRequired = "1.5"
	if _, err := payer.Authorize(req); err == nil {
		t.Fatalf("expected invalid amount error")
	}
	if _, err := WalletFromHex(""); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatUnits(big.NewInt(1_500_000), 6); got != "1.5" {
		t.Fatalf("unexpected %s", got)
	}
	if got := FormatUnits(nil, 6); got != "0" {
		t.Fatalf("unexpected %s", got)
	}
}
