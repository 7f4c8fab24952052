package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"PixelBoard/internal/events"
	"PixelBoard/internal/grid"
	"PixelBoard/internal/payment"
	"PixelBoard/internal/placement"
)

type statsResponse struct {
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

type pixelsResponse struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Cells  []grid.Cell `json:"cells"`
}

type availabilityResponse struct {
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Available bool       `json:"available"`
	Cell      *grid.Cell `json:"cell,omitempty"`
}

type paintRequest struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
	Owner string `json:"owner"`
}

type paintResponse struct {
	Cell  grid.Cell `json:"cell"`
	IsNew bool      `json:"isNew"`
}

type spaceResponse struct {
	Found bool `json:"found"`
	X     int  `json:"x"`
	Y     int  `json:"y"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.deps.Store.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		CellsSold:       stats.CellsSold,
		TotalCells:      stats.TotalCells,
		PercentSold:     stats.PercentSold,
		RevenueAtomic:   int64(stats.Revenue),
		RevenueUSD:      stats.RevenueUSD,
		UnitPriceAtomic: int64(stats.UnitPrice),
		UnitPriceUSD:    stats.UnitPrice.USD(),
		Placements:      s.deps.Ledger.Count(),
		Width:           s.deps.Store.Width(),
		Height:          s.deps.Store.Height(),
	})
}

func (s *Server) handlePixels(w http.ResponseWriter, _ *http.Request) {
	width, height := s.deps.Store.Bounds()
	writeJSON(w, http.StatusOK, pixelsResponse{Width: width, Height: height, Cells: s.deps.Store.AllCells()})
}

func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	x, err := intParam("x", chi.URLParam(r, "x"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	y, err := intParam("y", chi.URLParam(r, "y"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Store.CheckPoint(x, y); err != nil {
		writeError(w, r, err)
		return
	}
	resp := availabilityResponse{X: x, Y: y, Available: true}
	if cell, ok := s.deps.Store.GetCell(x, y); ok {
		resp.Available = false
		resp.Cell = &cell
	}
	writeJSON(w, http.StatusOK, resp)
}

// pricePaint 在要求支付之前校验坐标与颜色，非法请求不会收到 402。
func (s *Server) pricePaint(_ *http.Request, body []byte) (payment.Quote, error) {
	var req paintRequest
	if err := decodeBody(body, &req); err != nil {
		return payment.Quote{}, err
	}
	if err := s.deps.Store.CheckPoint(req.X, req.Y); err != nil {
		return payment.Quote{}, err
	}
	if _, err := grid.NormalizeColor(req.Color); err != nil {
		return payment.Quote{}, err
	}
	return payment.Quote{
		Amount:      s.deps.Store.UnitPrice(),
		Description: "Paint one pixel on the PixelBoard grid",
	}, nil
}

func (s *Server) handlePaint(w http.ResponseWriter, r *http.Request) {
	var req paintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cell, isNew, err := s.deps.Store.PaintCell(req.X, req.Y, req.Color, ownerFor(r, req.Owner))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.recordGridStats()
	s.publish(r.Context(), events.TypeCellPainted, cell)
	writeJSON(w, http.StatusOK, paintResponse{Cell: cell, IsNew: isNew})
}

func (s *Server) handleFindSpace(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	width, err := intParam("width", query.Get("width"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	height, err := intParam("height", query.Get("height"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := placement.CheckSize(width, height); err != nil {
		writeError(w, r, err)
		return
	}
	// 在快照上搜索，避免采样过程中反复争用网格锁。
	result := placement.FindEmptySpace(s.deps.Store.Snapshot(), width, height, nil)
	writeJSON(w, http.StatusOK, spaceResponse{Found: result.Found, X: result.X, Y: result.Y})
}

// ownerFor 优先使用已验证的付款地址，其次是请求声明的 owner。
func ownerFor(r *http.Request, requested string) string {
	if payer := payment.PayerFrom(r.Context()); payer != "" {
		return payer
	}
	if requested != "" {
		return requested
	}
	return placement.DefaultOwner
}
