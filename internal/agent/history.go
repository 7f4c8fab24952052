package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// HistoryLimit 是注入下一轮指令的历史决策条数上限。
const HistoryLimit = 10

// Decision 是一次被接受的投放的摘要。
type Decision struct {
	Brand       string    `json:"brand"`
	Style       string    `json:"style"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	PlacementID string    `json:"placementId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary 返回单行摘要。
func (d Decision) Summary() string {
	style := d.Style
	if style == "" {
		style = "unspecified"
	}
	return fmt.Sprintf("%s / %s / %dx%d", d.Brand, style, d.Width, d.Height)
}

// History 是有界的决策日志，只保留最近 HistoryLimit 条。
type History struct {
	mu      sync.Mutex
	limit   int
	entries []Decision
}

// NewHistory 创建指定上限的历史日志。
func NewHistory(limit int) *History {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	return &History{limit: limit}
}

// Add 追加一条决策，超出上限时丢弃最旧的记录。
func (h *History) Add(d Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, d)
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append([]Decision(nil), h.entries[over:]...)
	}
}

// Entries 返回从旧到新的快照。
func (h *History) Entries() []Decision {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Decision(nil), h.entries...)
}

// Len 返回当前条数。
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Format 将历史渲染为指令中的文本块。
func (h *History) Format() string {
	entries := h.Entries()
	if len(entries) == 0 {
		return "No previous placements."
	}
	var b strings.Builder
	for i, d := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d.Summary())
	}
	return strings.TrimRight(b.String(), "\n")
}
