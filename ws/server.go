// Package ws exposes the chat over a websocket plus a small REST surface
// for history, search, and uploads.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"negochat/attachments"
	"negochat/auth"
	"negochat/directory"
	"negochat/domain"
	"negochat/errors"
	"negochat/runtime"
	"negochat/search"
)

const defaultHistoryLimit = 50

// Searcher is the slice of the search index the transport needs.
type Searcher interface {
	Search(ctx context.Context, key domain.ConversationKey, terms string, limit int) ([]search.Hit, error)
}

type Server struct {
	log       *slog.Logger
	orch      *runtime.Orchestrator
	tokens    *auth.TokenManager
	proposals directory.ProposalDirectory
	uploads   *attachments.Handler
	searcher  Searcher
	uploadDir string
	upgrader  websocket.Upgrader
}

func NewServer(log *slog.Logger, orch *runtime.Orchestrator, tokens *auth.TokenManager,
	proposals directory.ProposalDirectory, uploads *attachments.Handler,
	searcher Searcher, uploadDir string) *Server {
	return &Server{
		log:       log,
		orch:      orch,
		tokens:    tokens,
		proposals: proposals,
		uploads:   uploads,
		searcher:  searcher,
		uploadDir: uploadDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the full HTTP surface. CORS wrapping happens in main.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/chat/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/campaigns/{campaign}/proposals/{proposal}/chat", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/campaigns/{campaign}/proposals/{proposal}/chat/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadDir))))
	return r
}

// authenticate accepts the token either as a bearer header or as a query
// parameter; browsers cannot set headers on a websocket upgrade.
func (s *Server) authenticate(r *http.Request) (*auth.CustomClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return nil, errors.ErrUnauthorized
	}
	return s.tokens.Validate(token)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	session := NewSession(conn, claims.UserID, s.orch, s.proposals, s.log)
	s.log.Info("Websocket connected", "user", claims.UserID)
	session.Run(r.Context())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ref, err := s.uploads.Upload(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, attachmentPayload(&ref))
}

// handleHistory serves one ascending page of the conversation log. The
// cursor is opaque; clients pass back next_cursor verbatim.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	_, key, ok := s.authorizeConversation(w, r)
	if !ok {
		return
	}

	var cursor *string
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor = &raw
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	messages, next, err := s.orch.History(key, cursor, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload := struct {
		Messages   []*MessagePayload `json:"messages"`
		NextCursor *string           `json:"next_cursor"`
	}{Messages: make([]*MessagePayload, 0, len(messages)), NextCursor: next}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, messagePayload(m))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	_, key, ok := s.authorizeConversation(w, r)
	if !ok {
		return
	}

	terms := r.URL.Query().Get("q")
	if strings.TrimSpace(terms) == "" {
		http.Error(w, "query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	hits, err := s.searcher.Search(r.Context(), key, terms, defaultHistoryLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Hits []search.Hit `json:"hits"`
	}{Hits: hits})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeConversation authenticates the caller, parses the path key, and
// checks participation. Any failure has already been written to w.
func (s *Server) authorizeConversation(w http.ResponseWriter, r *http.Request) (*auth.CustomClaims, domain.ConversationKey, bool) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return nil, domain.ConversationKey{}, false
	}

	vars := mux.Vars(r)
	campaignID, err := strconv.Atoi(vars["campaign"])
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return nil, domain.ConversationKey{}, false
	}
	proposalID, err := strconv.Atoi(vars["proposal"])
	if err != nil {
		http.Error(w, "invalid proposal id", http.StatusBadRequest)
		return nil, domain.ConversationKey{}, false
	}
	key := domain.ConversationKey{CampaignID: campaignID, ProposalID: proposalID}

	proposal, err := s.proposals.Lookup(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return nil, domain.ConversationKey{}, false
	}
	if !proposal.HasParticipant(claims.UserID) {
		s.writeError(w, errors.ErrUnauthorized)
		return nil, domain.ConversationKey{}, false
	}
	return claims, key, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("Response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
