package api

import (
	"fmt"
	"net/http"
	"net/url"

	"PixelBoard/internal/observability/metrics"
	"PixelBoard/internal/payment"
	"PixelBoard/internal/placement"
)

type placementResponse struct {
	placement.Placement
	ImageURL string `json:"imageUrl"`
}

type placementsResponse struct {
	Placements []placementResponse `json:"placements"`
}

func imageURL(id string) string {
	return "/api/images/" + url.PathEscape(id)
}

// priceAd 先完整校验投放请求，只有合法请求才会按 宽×高×单价 报价。
func (s *Server) priceAd(r *http.Request, body []byte) (payment.Quote, error) {
	var req placement.Request
	if err := decodeBody(body, &req); err != nil {
		return payment.Quote{}, err
	}
	if err := s.deps.Ledger.Validate(r.Context(), req); err != nil {
		return payment.Quote{}, err
	}
	return payment.Quote{
		Amount: s.deps.Ledger.Price(req),
		Description: fmt.Sprintf("Place a %dx%d ad at (%d,%d) on the PixelBoard grid",
			req.Width, req.Height, req.X, req.Y),
	}, nil
}

func (s *Server) handlePlaceAd(w http.ResponseWriter, r *http.Request) {
	var req placement.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Owner = ownerFor(r, req.Owner)

	p, err := s.deps.Ledger.PlaceAd(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.IncPlacements()
	s.recordGridStats()
	writeJSON(w, http.StatusCreated, placementResponse{Placement: p, ImageURL: imageURL(p.ImageID)})
}

func (s *Server) handleListAds(w http.ResponseWriter, _ *http.Request) {
	placements := s.deps.Ledger.ListPlacements()
	resp := placementsResponse{Placements: make([]placementResponse, 0, len(placements))}
	for _, p := range placements {
		resp.Placements = append(resp.Placements, placementResponse{Placement: p, ImageURL: imageURL(p.ImageID)})
	}
	writeJSON(w, http.StatusOK, resp)
}
