package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"ChatCore/internal/lib/api/response"

	"github.com/go-chi/render"
)

type RetryRequest struct {
	LocalID string `json:"local_id"`
}

// Retry re-transmits a failed optimistic send.
func Retry(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RetryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := handler.RetryMessage(r.Context(), req.LocalID); err != nil {
			log.Error("Failed to retry message", slog.Any("error", err))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("Failed to retry message"))
			return
		}

		render.JSON(w, r, response.Ok("message retried"))
	}
}
