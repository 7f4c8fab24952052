// Package payment implements the x402 payment gate: it prices requests,
// answers 402 with payment requirements, and delegates verification and
// settlement to a facilitator service.
package payment
