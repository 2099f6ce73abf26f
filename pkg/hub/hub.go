// Package hub implements the per-document session hub: the single-writer
// critical section that serializes Subscribe, Submit, CursorUpdate, and
// Unsubscribe for one document, transforming each submission against the
// tagged Operation algebra in pkg/ot and appending it to pkg/oplog's
// versioned log, with an idle-reclamation state machine and same-author
// tail exclusion on transform.
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/collabd/collabd/internal/auth"
	"github.com/collabd/collabd/internal/cluster"
	"github.com/collabd/collabd/internal/collabderr"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
	"github.com/collabd/collabd/pkg/logger"
	"github.com/collabd/collabd/pkg/oplog"
	"github.com/collabd/collabd/pkg/ot"
)

// Outbound is how a hub delivers frames to a subscriber without knowing
// anything about its transport. Enqueue returns false when the subscriber
// cannot keep up (its outbound queue is full); the hub treats that as
// grounds for disconnecting the subscriber outright rather than silently
// dropping individual frames.
type Outbound interface {
	Enqueue(frame protocol.ServerFrame) bool
}

type subscriberEntry struct {
	principal auth.Principal
	out       Outbound
	cursor    *protocol.CursorIn
	selection *protocol.SelectionIn
}

// Hub is the per-document session hub.
type Hub struct {
	documentID string
	maxDocSize int

	mu          sync.Mutex
	content     string
	log         *oplog.Log
	subscribers map[string]*subscriberEntry
	lifecycle   Lifecycle
	idleSince   time.Time

	idleGrace time.Duration
	bus       cluster.Bus
	unrelay   func()
	metrics   *metrics.Metrics
}

// Snapshot is the state New and the persister need to exchange with
// repository.Snapshot without pkg/hub importing internal/repository.
type Snapshot struct {
	Content       string
	Language      *string
	ServerVersion int
}

// New constructs a hub for documentID, seeded from an optional prior
// snapshot. retentionEntries bounds the operation log's count-based
// retention window.
func New(documentID string, initial Snapshot, maxDocSize, retentionEntries int, idleGrace time.Duration, bus cluster.Bus, m *metrics.Metrics) *Hub {
	if bus == nil {
		bus = cluster.NoopBus{}
	}
	h := &Hub{
		documentID:  documentID,
		maxDocSize:  maxDocSize,
		content:     initial.Content,
		log:         oplog.New(initial.ServerVersion, retentionEntries),
		subscribers: make(map[string]*subscriberEntry),
		lifecycle:   Idle,
		idleSince:   time.Now(),
		idleGrace:   idleGrace,
		bus:         bus,
		metrics:     m,
	}
	unrelay, err := bus.SubscribeOperations(documentID, h.applyRelayed)
	if err != nil {
		logger.Warn("hub could not subscribe to cluster relay", "document_id", documentID, "error", err.Error())
		unrelay = func() {}
	}
	h.unrelay = unrelay
	return h
}

// DocumentID returns the document this hub serializes mutations for.
func (h *Hub) DocumentID() string { return h.documentID }

// State reports the hub's current lifecycle phase.
func (h *Hub) State() Lifecycle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lifecycle
}

// Subscribe registers out to receive this document's broadcasts and
// returns a document_state snapshot: content, version, and the active_users
// list. It also broadcasts user_joined to every other subscriber.
func (h *Hub) Subscribe(sessionID string, principal auth.Principal, out Outbound) protocol.DocumentState {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribers[sessionID] = &subscriberEntry{principal: principal, out: out}
	if h.lifecycle == Idle || h.lifecycle == Draining {
		if h.lifecycle == Idle {
			h.metrics.HubActivated()
		}
		h.lifecycle = Active
	}

	active := make([]protocol.ActiveUser, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		if id == sessionID {
			continue
		}
		active = append(active, protocol.ActiveUser{
			ID:        sub.principal.ID,
			Username:  sub.principal.Name,
			Cursor:    sub.cursor,
			Selection: sub.selection,
		})
	}

	h.broadcastExceptLocked(sessionID, protocol.NewUserJoinedFrame(protocol.PresenceEvent{
		UserID:   principal.ID,
		Username: principal.Name,
	}))
	_ = h.bus.PublishPresence(cluster.RelayedPresence{DocumentID: h.documentID, Kind: "joined"})

	h.metrics.SubscriberJoined()
	return protocol.DocumentState{
		Content:     h.content,
		Version:     h.log.Length(),
		ActiveUsers: active,
	}
}

// Submit applies op on behalf of sessionID's principal: transform against
// the tail since op.BaseVersion (excluding that same author's own entries,
// since a client has already applied its own pending submissions locally
// and only needs the transform for concurrent edits from others), validate,
// apply, append, and broadcast to every other subscriber.
func (h *Hub) Submit(sessionID string, principal auth.Principal, op ot.Operation) (protocol.OperationAck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.OperationSubmitted()

	tail, ok := h.log.TailSince(op.BaseVersion)
	if !ok {
		h.metrics.OperationRejected("resync_required")
		return protocol.OperationAck{}, collabderr.ErrResyncRequired
	}

	start := time.Now()
	transformed := op.Normalize()
	for _, entry := range tail {
		if entry.AuthorID == principal.ID {
			continue
		}
		transformed, _ = ot.Transform(transformed, entry.Op)
	}
	h.metrics.ObserveTransformLatency(time.Since(start))

	if !ot.Validate(transformed, runeLen(h.content)) {
		h.metrics.OperationRejected("invalid_operation")
		return protocol.OperationAck{}, collabderr.ErrInvalidOperation
	}

	if transformed.IsNoop() {
		return protocol.OperationAck{Version: h.log.Length(), ServerTime: time.Now().Unix()}, nil
	}

	if transformed.Kind == ot.Insert {
		if newLen := runeLen(h.content) + transformed.Length; newLen > h.maxDocSize {
			h.metrics.OperationRejected("document_too_large")
			return protocol.OperationAck{}, fmt.Errorf("%w: resulting size %d exceeds limit %d", collabderr.ErrInvalidOperation, newLen, h.maxDocSize)
		}
	}

	if transformed.Kind == ot.Delete {
		transformed.Content = capturedContent(h.content, transformed)
	}

	newContent := ot.Apply(h.content, transformed)
	entry := h.log.Append(transformed, principal.ID, time.Now())
	h.content = newContent
	h.metrics.SetOplogLength(h.log.Length())
	h.metrics.OperationAccepted()

	h.broadcastExceptLocked(sessionID, protocol.NewOperationFrame(protocol.OperationOut{
		Operation: protocol.FromOperation(transformed),
		Version:   entry.ServerVersion,
		UserID:    principal.ID,
		Username:  principal.Name,
	}))

	if err := h.bus.PublishOperation(cluster.RelayedOperation{
		DocumentID:    h.documentID,
		Op:            transformed,
		AuthorID:      principal.ID,
		ServerVersion: entry.ServerVersion,
	}); err != nil {
		logger.Warn("cluster relay publish failed", "document_id", h.documentID, "error", err.Error())
	}

	return protocol.OperationAck{Version: entry.ServerVersion, ServerTime: time.Now().Unix()}, nil
}

// CursorUpdate records sessionID's latest cursor/selection and broadcasts
// it to every other subscriber. Cursor updates never touch the operation
// log or version.
func (h *Hub) CursorUpdate(sessionID string, principal auth.Principal, cursor *protocol.CursorIn, selection *protocol.SelectionIn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	sub.cursor = cursor
	sub.selection = selection

	h.broadcastExceptLocked(sessionID, protocol.NewCursorUpdateFrame(protocol.CursorUpdate{
		UserID:    principal.ID,
		Username:  principal.Name,
		Cursor:    cursor,
		Selection: selection,
	}))
}

// Unsubscribe removes sessionID and broadcasts user_left. It returns the
// number of remaining subscribers; when none remain the hub moves to
// Draining, and the registry's periodic Sweep reclaims it once
// ReadyForReclamation reports that the idle grace period has passed.
func (h *Hub) Unsubscribe(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[sessionID]
	if !ok {
		return len(h.subscribers)
	}
	delete(h.subscribers, sessionID)
	h.metrics.SubscriberLeft()

	h.broadcastExceptLocked(sessionID, protocol.NewUserLeftFrame(protocol.PresenceEvent{
		UserID:   sub.principal.ID,
		Username: sub.principal.Name,
	}))
	_ = h.bus.PublishPresence(cluster.RelayedPresence{DocumentID: h.documentID, Kind: "left"})

	if len(h.subscribers) == 0 {
		h.lifecycle = Draining
		h.idleSince = time.Now()
	}
	return len(h.subscribers)
}

// ReadyForReclamation reports whether the hub has had no subscribers for
// at least its configured idle grace period.
func (h *Hub) ReadyForReclamation(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lifecycle == Draining && now.Sub(h.idleSince) >= h.idleGrace
}

// Reclaim transitions the hub to Reclaimed and tears down its cluster
// subscription. The registry must not reuse a Reclaimed hub; a new
// Subscribe for the same document creates a fresh one.
func (h *Hub) Reclaim() {
	h.mu.Lock()
	h.lifecycle = Reclaimed
	h.mu.Unlock()
	h.unrelay()
	h.metrics.HubReclaimed()
}

// Snapshot returns the current content and version for the persister to
// write to the document repository.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{Content: h.content, ServerVersion: h.log.Length()}
}

func (h *Hub) broadcastExceptLocked(exceptSessionID string, frame protocol.ServerFrame) {
	for id, sub := range h.subscribers {
		if id == exceptSessionID {
			continue
		}
		if !sub.out.Enqueue(frame) {
			h.metrics.BroadcastDropped(frame.Kind)
			continue
		}
		h.metrics.BroadcastSent()
	}
}

// applyRelayed re-broadcasts an operation accepted by a peer instance to
// this instance's local subscribers. It does not re-run transform or
// append to the local log: the peer's ServerVersion is authoritative
// because only one instance owns the write path for a given document at a
// time (see DESIGN.md's cluster relay note).
func (h *Hub) applyRelayed(op cluster.RelayedOperation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcastExceptLocked("", protocol.NewOperationFrame(protocol.OperationOut{
		Operation: protocol.FromOperation(op.Op),
		Version:   op.ServerVersion,
		UserID:    op.AuthorID,
	}))
}

func runeLen(s string) int { return len([]rune(s)) }

// capturedContent returns the exact substring a delete operation removes,
// so Invert stays total per DESIGN.md's Open Question 3 resolution.
func capturedContent(content string, op ot.Operation) string {
	runes := []rune(content)
	start := op.Position
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	end := start + op.Length
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end])
}
