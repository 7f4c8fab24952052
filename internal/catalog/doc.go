// Package catalog provides the brands, visual styles and ad sizes the
// decision agent chooses from when composing a placement.
package catalog
