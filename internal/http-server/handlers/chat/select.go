package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chatengine "ChatCore/internal/chat"
	"ChatCore/internal/lib/api/response"

	"github.com/go-chi/render"
)

type SelectRequest struct {
	ConversationID string `json:"conversation_id"`
}

func Select(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := handler.SelectConversation(r.Context(), req.ConversationID); err != nil {
			if errors.Is(err, chatengine.ErrNotParticipant) {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("Not a participant of this conversation"))
				return
			}
			log.Error("Failed to select conversation", slog.Any("error", err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to load conversation history"))
			return
		}

		render.JSON(w, r, response.Ok("conversation selected"))
	}
}
