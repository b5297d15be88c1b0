package conversation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// List returns the cached conversation list.
func List(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, handler.Conversations())
	}
}
