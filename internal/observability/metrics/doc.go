// Package metrics exposes Prometheus collectors for the HTTP surface, the
// grid counters, the payment gate, image generation and the agent loop.
package metrics
