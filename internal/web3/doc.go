// Package web3 holds the wallet side of payments: a secp256k1 wallet, an
// EIP-3009 payer that produces x402 "exact" payment headers, and read-only
// chain access used to report wallet balances.
package web3
