package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xerrors "PixelBoard/internal/errors"
)

const heartbeatInterval = 15 * time.Second

// handleEvents 以 Server-Sent Events 推送网格变化，查看器据此增量刷新。
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, xerrors.New(xerrors.CodeUnknown, "streaming is not supported by this connection"))
		return
	}
	ch, cancel := s.deps.Hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.log.Warn("序列化事件失败", "event_id", evt.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data)
			flusher.Flush()
		}
	}
}
