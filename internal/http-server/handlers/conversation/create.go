package conversation

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"ChatCore/internal/lib/api/response"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type CreateRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants" validate:"required,min=1"`
	WithAgent    bool     `json:"with_agent"`
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	validate := validator.New()
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("At least one participant required"))
			return
		}

		conv, err := handler.CreateConversation(r.Context(), req.Name, req.Participants, req.WithAgent)
		if err != nil {
			log.Error("Failed to create conversation", slog.Any("error", err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to create conversation"))
			return
		}

		render.JSON(w, r, conv)
	}
}
