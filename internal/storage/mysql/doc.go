// Package mysql persists the decision agent's journal. A MySQL-backed
// repository applies the embedded schema migrations on start; a JSON Lines
// file repository offers the same contract for local development.
package mysql
