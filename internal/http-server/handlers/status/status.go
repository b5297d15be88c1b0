package status

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// Core is what the status handler needs from the facade.
type Core interface {
	ConnectionState() string
}

type StatusResponse struct {
	Connection string `json:"connection"`
}

// Get exposes the connection-state flag for the UI banner.
func Get(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, StatusResponse{Connection: handler.ConnectionState()})
	}
}
