package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type imageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type imageResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ContentType   string `json:"contentType"`
	RevisedPrompt string `json:"revisedPrompt,omitempty"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	img, err := s.deps.Images.Generate(r.Context(), req.Prompt, req.Width, req.Height)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageResponse{
		ID:            img.ID,
		URL:           imageURL(img.ID),
		Width:         img.Width,
		Height:        img.Height,
		ContentType:   img.ContentType,
		RevisedPrompt: img.RevisedPrompt,
	})
}

// handleImage 返回图片字节，图片内容生成后不再变化，可以长期缓存。
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	img, data, err := s.deps.Images.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
