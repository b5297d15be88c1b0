package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ChatCore/entity"
	chatengine "ChatCore/internal/chat"
	"ChatCore/internal/lib/api/response"
	"ChatCore/internal/ws"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type SendRequest struct {
	Text       string             `json:"text" validate:"required_without=Attachment"`
	Attachment *entity.Attachment `json:"attachment,omitempty"`
}

type SendResponse struct {
	response.Response
	Message entity.Message `json:"message"`
}

func SendMsg(log *slog.Logger, handler Core) http.HandlerFunc {
	validate := validator.New()
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Empty message"))
			return
		}

		var msg entity.Message
		var err error
		if req.Attachment != nil {
			msg, err = handler.SendImage(r.Context(), *req.Attachment)
		} else {
			msg, err = handler.SendText(r.Context(), req.Text)
		}
		if err != nil {
			switch {
			case errors.Is(err, chatengine.ErrNoActiveConversation):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.Error("No conversation selected"))
			case errors.Is(err, ws.ErrNotConnected):
				// Recoverable: the caller retries once the connection flag
				// turns back to connected.
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, response.Error("Not connected, retry later"))
			default:
				log.Error("Failed to send message", slog.Any("error", err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("Failed to send message"))
			}
			return
		}

		render.JSON(w, r, SendResponse{
			Response: response.Ok("message sent"),
			Message:  msg,
		})
	}
}
