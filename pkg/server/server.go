// Package server wires the hub registry, authenticator, and subscriber
// sessions onto an HTTP surface: ServeMux-based routing for /api/socket,
// /api/text, and /api/stats, a websocket.Accept upgrade per connection, and
// background sweep/persist loops.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/collabd/collabd/internal/auth"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/repository"
	"github.com/collabd/collabd/pkg/logger"
	"github.com/collabd/collabd/pkg/session"
)

// Server is collabd's HTTP entry point.
type Server struct {
	registry      *Registry
	authenticator auth.Authenticator
	accessOracle  auth.AccessOracle
	repo          repository.DocumentRepository
	sessionCfg    session.Config
	metrics       *metrics.Metrics
	mux           *http.ServeMux
	startTime     time.Time
}

// New constructs a Server with routes registered.
func New(registry *Registry, authenticator auth.Authenticator, accessOracle auth.AccessOracle, repo repository.DocumentRepository, sessionCfg session.Config, m *metrics.Metrics) *Server {
	s := &Server{
		registry:      registry,
		authenticator: authenticator,
		accessOracle:  accessOracle,
		repo:          repo,
		sessionCfg:    sessionCfg,
		metrics:       m,
		mux:           http.NewServeMux(),
		startTime:     time.Now(),
	}
	s.mux.HandleFunc("/api/socket/", s.handleSocket)
	s.mux.HandleFunc("/api/text/", s.handleText)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleSocket upgrades to a websocket and runs a subscriber session for
// the document named by the URL path, after validating the caller's
// credential and document access.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimPrefix(r.URL.Path, "/api/socket/")
	if documentID == "" {
		http.Error(w, "document ID required", http.StatusBadRequest)
		return
	}

	credential := r.URL.Query().Get("token")
	principal, err := s.authenticator.Validate(r.Context(), credential)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := auth.ContextWithCredential(r.Context(), credential)

	allowed, err := s.accessOracle.HasAccess(ctx, principal, documentID)
	if err != nil || !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Warn("websocket upgrade failed", "document_id", documentID, "error", err.Error())
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	h := s.registry.GetOrCreate(r.Context(), documentID)
	sessionID := uuid.NewString()
	sess := session.New(sessionID, documentID, principal, conn, h, s.sessionCfg, s.metrics)

	if err := sess.Run(r.Context()); err != nil {
		logger.Debug("session terminated", "document_id", documentID, "session_id", sessionID, "user_id", principal.ID, "error", err.Error())
	}
}

// handleText returns the current plain-text content of a document, first
// checking the live registry and falling back to the repository.
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimPrefix(r.URL.Path, "/api/text/")
	if documentID == "" {
		http.Error(w, "document ID required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if h := s.registry.peek(documentID); h != nil {
		w.Write([]byte(h.Snapshot().Content))
		return
	}

	if s.repo != nil {
		if snap, err := s.repo.Load(r.Context(), documentID); err == nil && snap != nil {
			w.Write([]byte(snap.Text))
			return
		} else if err != nil {
			logger.Warn("failed to load document for text endpoint", "document_id", documentID, "error", err.Error())
		}
	}
}

// Stats is the payload /api/stats returns.
type Stats struct {
	StartTime    int64 `json:"start_time"`
	ActiveHubs   int   `json:"active_hubs"`
	StoredDocs   int   `json:"stored_documents"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		StartTime:  s.startTime.Unix(),
		ActiveHubs: s.registry.Count(),
	}
	if s.repo != nil {
		if count, err := s.repo.Count(r.Context()); err == nil {
			stats.StoredDocs = count
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// StartBackgroundLoops runs the idle-reclamation sweep and the periodic
// persister until ctx is canceled.
func (s *Server) StartBackgroundLoops(ctx context.Context, sweepInterval, persistInterval time.Duration) {
	sweepTicker := time.NewTicker(sweepInterval)
	persistTicker := time.NewTicker(persistInterval)
	defer sweepTicker.Stop()
	defer persistTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.registry.PersistAll(context.Background())
			return
		case <-sweepTicker.C:
			s.registry.Sweep(ctx)
		case <-persistTicker.C:
			s.registry.PersistAll(ctx)
		}
	}
}
