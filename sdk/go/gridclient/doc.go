// Package gridclient is a typed Go client for the PixelBoard HTTP API. Paid
// endpoints answer 402 with x402 payment requirements; when a Payer is
// configured the client signs a payment within the configured maximum and
// retries the request once.
package gridclient
