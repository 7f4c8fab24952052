package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// WalletBalance holds the native and token balances of an address.
type WalletBalance struct {
	Address       common.Address `json:"address"`
	Native        *big.Int       `json:"native"`
	Token         *big.Int       `json:"token,omitempty"`
	TokenDecimals uint8          `json:"tokenDecimals,omitempty"`
}

// ChainReader is the read-only view of a chain the agent needs.
type ChainReader interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Balances(ctx context.Context, owner, token common.Address) (WalletBalance, error)
	Close()
}

// FormatUnits renders an integer amount with the given decimals, trimming
// trailing zeros.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}
	f := new(big.Float).SetPrec(256).SetInt(amount)
	f.Quo(f, new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	return f.Text('f', -1)
}
