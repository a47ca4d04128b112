package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/npezzotti/go-polyglot/internal/presence"
	"github.com/npezzotti/go-polyglot/internal/server"
)

const (
	defaultName        = "Anonymous"
	healthCheckTimeout = 5 * time.Second
)

type ConnectRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	SelectedLanguage string `json:"selectedLanguage"`
}

func (s *PolyglotApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *PolyglotApp) connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultName
	}

	roster, err := s.cs.Connect(presence.Identity(email), name, req.SelectedLanguage)
	if err != nil {
		switch {
		case errors.Is(err, language.ErrUnsupportedLanguage):
			s.writeJson(w, http.StatusBadRequest, NewUnsupportedLanguageResponse())
		case errors.Is(err, presence.ErrInvalidIdentity):
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
		default:
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
		}
		return
	}

	s.writeJson(w, http.StatusOK, &StatusResponse{
		Status: "User connected",
		Users:  roster,
	})
}

func (s *PolyglotApp) users(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.cs.Roster())
}

func (s *PolyglotApp) languages(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.cs.Languages())
}

func (s *PolyglotApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.cs.CheckHealth(ctx); err != nil {
		s.log.WithError(err).Warn("health check failed")
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// checkOrigin allows requests without an Origin header and, when no allowed
// origins are configured, every origin.
func (s *PolyglotApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *PolyglotApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	client, err := server.NewClient(conn, s.cs, s.log)
	if err != nil {
		s.log.WithError(err).Error("failed to create client")
		conn.Close()
		return
	}

	if !s.cs.RegisterClient(client) {
		s.log.Warn("chat server is shutting down, closing connection")
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
