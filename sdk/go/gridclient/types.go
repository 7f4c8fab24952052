package gridclient

import (
	"fmt"
	"time"

	"PixelBoard/pkg/x402"
)

// Stats mirrors GET /api/stats.
type Stats struct {
	CellsSold       int     `json:"cellsSold"`
	TotalCells      int     `json:"totalCells"`
	PercentSold     float64 `json:"percentSold"`
	RevenueAtomic   int64   `json:"revenueAtomic"`
	RevenueUSD      string  `json:"revenueUsd"`
	UnitPriceAtomic int64   `json:"unitPriceAtomic"`
	UnitPriceUSD    string  `json:"unitPriceUsd"`
	Placements      int     `json:"placements"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// Cell is one painted coordinate.
type Cell struct {
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Color       string    `json:"color"`
	Owner       string    `json:"owner"`
	PlacementID string    `json:"placementId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PixelsSnapshot mirrors GET /api/pixels.
type PixelsSnapshot struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Cells  []Cell `json:"cells"`
}

// Availability mirrors GET /api/pixels/{x}/{y}.
type Availability struct {
	X         int   `json:"x"`
	Y         int   `json:"y"`
	Available bool  `json:"available"`
	Cell      *Cell `json:"cell,omitempty"`
}

// PaintRequest is the body of POST /api/pixels.
type PaintRequest struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
	Owner string `json:"owner,omitempty"`
}

// PaintResult is returned by a successful paint.
type PaintResult struct {
	Cell       Cell                 `json:"cell"`
	IsNew      bool                 `json:"isNew"`
	Settlement *x402.SettleResponse `json:"-"`
}

// AdRequest is the body of POST /api/ads.
type AdRequest struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	ImageID string `json:"imageId"`
	Link    string `json:"link"`
	Title   string `json:"title"`
	Owner   string `json:"owner,omitempty"`
}

// Placement is an accepted ad.
type Placement struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	PixelCount   int       `json:"pixelCount"`
	NewPixels    int       `json:"newPixels"`
	TotalCost    int64     `json:"totalCostAtomic"`
	TotalCostUSD string    `json:"totalCostUsd"`
	ImageID      string    `json:"imageId"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	Link         string    `json:"link"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AdResult is returned by a successful placement.
type AdResult struct {
	Placement
	Settlement *x402.SettleResponse `json:"-"`
}

// Space mirrors GET /api/space.
type Space struct {
	Found bool `json:"found"`
	X     int  `json:"x"`
	Y     int  `json:"y"`
}

// ImageRequest is the body of POST /api/images.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ImageHandle is returned by POST /api/images.
type ImageHandle struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ContentType   string `json:"contentType"`
	RevisedPrompt string `json:"revisedPrompt,omitempty"`
}

// APIError represents a structured error returned by the server.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("pixelboard api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("pixelboard api error (%d): %s", e.StatusCode, e.Message)
}

// PaymentError reports a 402 the client could not or would not satisfy.
type PaymentError struct {
	Reason  string
	Accepts []x402.PaymentRequirements
}

func (e *PaymentError) Error() string {
	return "payment required: " + e.Reason
}
