package server

import (
	"context"
	"sync"
	"time"

	"github.com/collabd/collabd/internal/cluster"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/repository"
	"github.com/collabd/collabd/pkg/hub"
	"github.com/collabd/collabd/pkg/logger"
)

// Registry owns the set of live document hubs keyed by document ID,
// lazily loading a snapshot from the repository on first access and
// sweeping idle hubs through their reclamation lifecycle in the
// background.
type Registry struct {
	mu              sync.Mutex
	hubs            map[string]*hub.Hub
	repo            repository.DocumentRepository
	bus             cluster.Bus
	metrics         *metrics.Metrics
	maxDocSize      int
	retentionEntries int
	idleGrace       time.Duration
}

// NewRegistry constructs a Registry. repo may be nil for a purely in-memory
// deployment.
func NewRegistry(repo repository.DocumentRepository, bus cluster.Bus, m *metrics.Metrics, maxDocSize, retentionEntries int, idleGrace time.Duration) *Registry {
	return &Registry{
		hubs:             make(map[string]*hub.Hub),
		repo:             repo,
		bus:              bus,
		metrics:          m,
		maxDocSize:       maxDocSize,
		retentionEntries: retentionEntries,
		idleGrace:        idleGrace,
	}
}

// GetOrCreate returns the live hub for documentID, loading a snapshot from
// the repository on first access if one is configured.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) *hub.Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[documentID]; ok && h.State() != hub.Reclaimed {
		return h
	}

	initial := hub.Snapshot{}
	if r.repo != nil {
		if snap, err := r.repo.Load(ctx, documentID); err != nil {
			logger.Warn("failed to load document snapshot", "document_id", documentID, "error", err.Error())
		} else if snap != nil {
			initial = hub.Snapshot{Content: snap.Text, Language: snap.Language, ServerVersion: snap.ServerVersion}
		}
	}

	h := hub.New(documentID, initial, r.maxDocSize, r.retentionEntries, r.idleGrace, r.bus, r.metrics)
	r.hubs[documentID] = h
	return h
}

// peek returns the live hub for documentID without creating one, or nil.
func (r *Registry) peek(documentID string) *hub.Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hubs[documentID]; ok && h.State() != hub.Reclaimed {
		return h
	}
	return nil
}

// Count returns the number of hubs currently tracked (Active or Draining).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

// Sweep reclaims any hub that has been Draining for at least its idle
// grace period, and persists its final snapshot first if a repository is
// configured.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	var toReclaim []*hub.Hub
	now := time.Now()
	for id, h := range r.hubs {
		if h.ReadyForReclamation(now) {
			toReclaim = append(toReclaim, h)
			delete(r.hubs, id)
		}
	}
	r.mu.Unlock()

	for _, h := range toReclaim {
		r.persist(ctx, h)
		h.Reclaim()
		logger.Info("hub reclaimed", "document_id", h.DocumentID())
	}
}

// PersistAll writes every live hub's current snapshot to the repository.
// Called periodically and on shutdown.
func (r *Registry) PersistAll(ctx context.Context) {
	r.mu.Lock()
	hubs := make([]*hub.Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		r.persist(ctx, h)
	}
}

func (r *Registry) persist(ctx context.Context, h *hub.Hub) {
	if r.repo == nil {
		return
	}
	snap := h.Snapshot()
	err := r.repo.Persist(ctx, repository.Snapshot{
		DocumentID:    h.DocumentID(),
		Text:          snap.Content,
		Language:      snap.Language,
		ServerVersion: snap.ServerVersion,
	})
	if err != nil {
		logger.Warn("failed to persist document snapshot", "document_id", h.DocumentID(), "error", err.Error())
	}
}
