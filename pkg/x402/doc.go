// Package x402 holds the wire types of the x402 v1 payment protocol: the 402
// response body, the X-PAYMENT header payload for the "exact" EVM scheme, and
// the facilitator verify/settle messages.
package x402
