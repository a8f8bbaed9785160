package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/youcupid/youcupid/cupid"
	"github.com/youcupid/youcupid/protocol"
	"github.com/youcupid/youcupid/relay"
)

const (
	shutdownTimeout = 5 * time.Second
	// maxBodyBytes bounds request bodies; profiles are the largest payload.
	maxBodyBytes = 64 << 10
)

var errBadRequest = errors.New("bad request")

// Service is the application surface exposed over HTTP.
type Service interface {
	Login(ctx context.Context) (*cupid.User, error)
	Logout()
	Session() (*cupid.User, error)
	Relays() cupid.RelayStatus
	AddRelay(ctx context.Context, url string) (string, error)
	RemoveRelay(url string)
	Profile(ctx context.Context, publicKey string) (protocol.Profile, error)
	UpdateProfile(ctx context.Context, profile protocol.Profile) (protocol.Profile, error)
	Friends(ctx context.Context) ([]cupid.Friend, error)
	CreateMatch(ctx context.Context, friend1, friend2 string) (protocol.Match, error)
	Matches(ctx context.Context) ([]protocol.Match, error)
	MatchesInvolvingMe(ctx context.Context) ([]protocol.Match, error)
	DeleteMatch(ctx context.Context, id string) error
	SendDirectMessage(ctx context.Context, recipient, content string) (protocol.DirectMessage, error)
	Conversation(ctx context.Context, peer string) ([]protocol.DirectMessage, error)
}

var _ Service = (*cupid.Client)(nil)

type Server struct {
	service Service
	handler http.Handler
	addr    string
}

type status struct {
	Relays cupid.RelayStatus `json:"relays"`
	User   *cupid.User       `json:"user"`
}

type createMatchRequest struct {
	Friend1 string `json:"friend1"`
	Friend2 string `json:"friend2"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type relayRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(service Service, addr string, corsOrigins []string) *Server {
	s := &Server{service: service, addr: addr}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/profile", s.handleOwnProfile)
	mux.HandleFunc("PUT /api/profile", s.handleUpdateProfile)
	mux.HandleFunc("GET /api/profiles/{pubkey}", s.handleProfile)
	mux.HandleFunc("GET /api/friends", s.handleFriends)
	mux.HandleFunc("GET /api/matches", s.handleMatches)
	mux.HandleFunc("POST /api/matches", s.handleCreateMatch)
	mux.HandleFunc("GET /api/matches/involving-me", s.handleMatchesInvolvingMe)
	mux.HandleFunc("DELETE /api/matches/{id}", s.handleDeleteMatch)
	mux.HandleFunc("GET /api/messages/{pubkey}", s.handleConversation)
	mux.HandleFunc("POST /api/messages/{pubkey}", s.handleSendMessage)
	mux.HandleFunc("GET /api/relays", s.handleRelays)
	mux.HandleFunc("POST /api/relays", s.handleAddRelay)
	mux.HandleFunc("DELETE /api/relays", s.handleRemoveRelay)
	s.handler = requestLog(securityHeaders(withCORS(corsOrigins, mux)))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "address", s.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	user, _ := s.service.Session()
	writeJSON(w, http.StatusOK, status{Relays: s.service.Relays(), User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Login(r.Context())
	respond(w, user, err)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.service.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOwnProfile(w http.ResponseWriter, _ *http.Request) {
	user, err := s.service.Session()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var profile protocol.Profile
	if err := decode(w, r, &profile); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.service.UpdateProfile(r.Context(), profile)
	respond(w, updated, err)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.Profile(r.Context(), r.PathValue("pubkey"))
	respond(w, profile, err)
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.service.Friends(r.Context())
	respond(w, friends, err)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.service.Matches(r.Context())
	respond(w, matches, err)
}

func (s *Server) handleMatchesInvolvingMe(w http.ResponseWriter, r *http.Request) {
	matches, err := s.service.MatchesInvolvingMe(r.Context())
	respond(w, matches, err)
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	match, err := s.service.CreateMatch(r.Context(), req.Friend1, req.Friend2)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, match)
}

func (s *Server) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteMatch(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	messages, err := s.service.Conversation(r.Context(), r.PathValue("pubkey"))
	respond(w, messages, err)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	message, err := s.service.SendDirectMessage(r.Context(), r.PathValue("pubkey"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) handleRelays(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Relays())
}

func (s *Server) handleAddRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.service.AddRelay(r.Context(), req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Relays())
}

func (s *Server) handleRemoveRelay(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, fmt.Errorf("%w: url query parameter is required", errBadRequest))
		return
	}
	s.service.RemoveRelay(url)
	writeJSON(w, http.StatusOK, s.service.Relays())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("could not encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, cupid.ErrNotLoggedIn), errors.Is(err, cupid.ErrNoSigner):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequest),
		errors.Is(err, cupid.ErrInvalidMatch),
		errors.Is(err, cupid.ErrEmptyMessage),
		errors.Is(err, protocol.ErrInvalidPublicKey),
		errors.Is(err, protocol.ErrNotMatch),
		errors.Is(err, relay.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, cupid.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, relay.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cupid.ErrDuplicateMatch):
		return http.StatusConflict
	case errors.Is(err, cupid.ErrPublishTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
