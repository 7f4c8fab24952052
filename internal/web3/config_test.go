package web3

import "testing"

func TestLoadChainDefinitions(t *testing.T) {
	defs, err := LoadChainDefinitions("../../configs/chains.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, ok := defs.Lookup("Base-Sepolia")
	if !ok {
		t.Fatalf("expected base-sepolia definition")
	}
	if def.ChainID != 84532 || def.USDC == "" || def.RPCURL == "" {
		t.Fatalf("unexpected definition %+v", def)
	}
	empty, err := LoadChainDefinitions("")
	if err != nil || len(empty.Chains) != 0 {
		t.Fatalf("empty path should yield no chains: %v", err)
	}
}
