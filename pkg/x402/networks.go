package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// Network describes an EVM network and its default USDC deployment.
type Network struct {
	Name      string
	ChainID   *big.Int
	USDC      string
	TokenName string
	Version   string
}

var networks = map[string]Network{
	"base-sepolia": {
		Name:      "base-sepolia",
		ChainID:   big.NewInt(84532),
		USDC:      "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenName: "USDC",
		Version:   "2",
	},
	"base": {
		Name:      "base",
		ChainID:   big.NewInt(8453),
		USDC:      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TokenName: "USD Coin",
		Version:   "2",
	},
	"avalanche-fuji": {
		Name:      "avalanche-fuji",
		ChainID:   big.NewInt(43113),
		USDC:      "0x5425890298aed601595a70AB815c96711a31Bc65",
		TokenName: "USD Coin",
		Version:   "2",
	},
}

// LookupNetwork returns the known network by name.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("unknown x402 network %q", name)
	}
	return Network{
		Name:      n.Name,
		ChainID:   new(big.Int).Set(n.ChainID),
		USDC:      n.USDC,
		TokenName: n.TokenName,
		Version:   n.Version,
	}, nil
}
