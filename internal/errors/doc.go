// Package errors defines the unified error codes shared by the grid store,
// the placement ledger, the payment gate and the agent. Every error renders
// to a structured payload so that automated callers can correct their input.
package errors
