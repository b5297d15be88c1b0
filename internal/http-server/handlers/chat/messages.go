package chat

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// Messages returns the visible log of a conversation, the viewed one when no
// conversation_id is given. This is the reactive list the presentation layer
// renders.
func Messages(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := r.URL.Query().Get("conversation_id")
		render.JSON(w, r, handler.Messages(conversationID))
	}
}
