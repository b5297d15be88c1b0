package unread

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

type CountsResponse struct {
	Total  int    `json:"total"`
	Count  *int   `json:"count,omitempty"`
	Viewed string `json:"viewed,omitempty"`
}

// Get reports unread counts: the total, plus the per-conversation count when
// conversation_id is given.
func Get(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := CountsResponse{
			Total:  handler.TotalUnread(),
			Viewed: handler.ViewedConversation(),
		}
		if id := r.URL.Query().Get("conversation_id"); id != "" {
			n := handler.UnreadCount(id)
			resp.Count = &n
		}
		render.JSON(w, r, resp)
	}
}
