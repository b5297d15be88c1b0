package api

import (
	"ChatCore/internal/config"
	"ChatCore/internal/http-server/handlers/chat"
	"ChatCore/internal/http-server/handlers/conversation"
	"ChatCore/internal/http-server/handlers/errors"
	"ChatCore/internal/http-server/handlers/status"
	"ChatCore/internal/http-server/handlers/unread"
	"ChatCore/internal/http-server/middleware/authenticate"
	"ChatCore/internal/http-server/middleware/timeout"
	"ChatCore/internal/lib/sl"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"log/slog"
	"net"
	"net/http"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	chat.Core
	unread.Core
	status.Core
	conversation.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(5))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))
	router.Use(authenticate.New(log, handler))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Route("/chat", func(r chi.Router) {
			r.Post("/send", chat.SendMsg(log, handler))
			r.Post("/select", chat.Select(log, handler))
			r.Post("/retry", chat.Retry(log, handler))
			r.Get("/messages", chat.Messages(log, handler))
			r.Get("/unread", unread.Get(log, handler))
		})
		v1.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversation.List(log, handler))
			r.Post("/create", conversation.Create(log, handler))
		})
		v1.Get("/status", status.Get(log, handler))
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  router,
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
