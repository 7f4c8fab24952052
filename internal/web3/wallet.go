package web3

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet holds a secp256k1 key used to authorize payments.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWallet wraps an existing private key.
func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// WalletFromHex parses a hex private key, with or without 0x prefix.
func WalletFromHex(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("未提供钱包私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	return NewWallet(key), nil
}

// Address returns the wallet address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// SignHash signs a 32-byte digest and returns a 65-byte signature with v in
// {27, 28}.
func (w *Wallet) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
