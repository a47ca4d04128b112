package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-polyglot/internal/config"
	"github.com/npezzotti/go-polyglot/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type PolyglotApp struct {
	log            *logrus.Logger
	srv            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
}

// NewPolyglotApp registers the HTTP API on mux. The mux may already carry
// other routes, such as the stats endpoint.
func NewPolyglotApp(mux *http.ServeMux, logger *logrus.Logger, cs *server.ChatServer, cfg *config.Config) *PolyglotApp {
	s := &PolyglotApp{
		log:            logger,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/connect", s.connect)
	mux.HandleFunc("GET /api/users", s.users)
	mux.HandleFunc("GET /api/languages", s.languages)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return s
}

func (s *PolyglotApp) Start() error {
	s.log.Infof("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *PolyglotApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
