package receipt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raseedapp/raseed/internal/auth"
)

// Chatbot answers a user's question grounded in their receipts. Satisfied by
// assistant.Assistant.
type Chatbot interface {
	Chat(ctx context.Context, ownerID, message string) (answer string, matches []Match, err error)
}

type contextKey string

const ownerIDKey contextKey = "owner_id"

// Server handles HTTP requests for receipts and chat
type Server struct {
	pipeline *Pipeline
	store    DocumentStore
	storage  Storage
	chatbot  Chatbot
	verifier auth.Verifier
	mux      *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(pipeline *Pipeline, store DocumentStore, storage Storage, chatbot Chatbot, verifier auth.Verifier) *Server {
	return NewServerWithMux(pipeline, store, storage, chatbot, verifier, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(pipeline *Pipeline, store DocumentStore, storage Storage, chatbot Chatbot, verifier auth.Verifier, mux *http.ServeMux) *Server {
	s := &Server{
		pipeline: pipeline,
		store:    store,
		storage:  storage,
		chatbot:  chatbot,
		verifier: verifier,
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth resolves the bearer credential to an owner id and stores it on
// the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := bearerToken(r)
		ownerID, err := s.verifier.Verify(credential)
		if err != nil {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Bearer realm="Raseed"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			if !errors.Is(err, auth.ErrUnauthorized) {
				slog.Error("Credential verification error", "error", err)
			}
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerIDKey, ownerID)))
	}
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// ownerID reads the authenticated owner id off the request context
func ownerID(r *http.Request) string {
	id, _ := r.Context().Value(ownerIDKey).(string)
	return id
}

// registerRoutes registers all API routes on the server's mux.
// Routes are registered from most specific to least specific.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("POST /api/receipts/{id}/retry", s.requireAuth(s.handleRetryReceipt))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleUploadReceipt))

	s.mux.HandleFunc("POST /api/chat", s.requireAuth(s.handleChat))

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
