// Package cluster relays accepted operations and presence events between
// collabd instances over NATS, so a document's subscribers can be spread
// across more than one process: one subject per document per event kind,
// with each instance tagging its own publishes by origin so it can ignore
// its own echoes on the subscribe side.
package cluster

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/pkg/logger"
	"github.com/collabd/collabd/pkg/ot"
)

// RelayedOperation is what one instance publishes after locally accepting
// an operation, so peer instances holding subscribers for the same
// document can re-broadcast it without re-running transform locally.
type RelayedOperation struct {
	DocumentID    string       `json:"document_id"`
	Op            ot.Operation `json:"op"`
	AuthorID      string       `json:"author_id"`
	OriginID      string       `json:"origin_id"`
	ServerVersion int          `json:"server_version"`
}

// RelayedPresence carries a cursor update or join/leave event across
// instances.
type RelayedPresence struct {
	DocumentID string          `json:"document_id"`
	OriginID   string          `json:"origin_id"`
	Kind       string          `json:"kind"` // "cursor", "joined", "left"
	Payload    json.RawMessage `json:"payload"`
}

// Bus is the subset of cluster behavior a hub registry needs: publish what
// happened locally, and receive what happened elsewhere.
type Bus interface {
	PublishOperation(op RelayedOperation) error
	PublishPresence(p RelayedPresence) error
	SubscribeOperations(documentID string, handler func(RelayedOperation)) (func(), error)
	SubscribePresence(documentID string, handler func(RelayedPresence)) (func(), error)
	Close()
}

// NoopBus is the Bus used when no NATS URL is configured: a single-instance
// deployment never needs cross-instance relay.
type NoopBus struct{}

func (NoopBus) PublishOperation(RelayedOperation) error { return nil }
func (NoopBus) PublishPresence(RelayedPresence) error   { return nil }
func (NoopBus) SubscribeOperations(string, func(RelayedOperation)) (func(), error) {
	return func() {}, nil
}
func (NoopBus) SubscribePresence(string, func(RelayedPresence)) (func(), error) {
	return func() {}, nil
}
func (NoopBus) Close() {}

// NATSBus is the default multi-instance Bus.
type NATSBus struct {
	conn      *nats.Conn
	originID  string
	metrics   *metrics.Metrics
}

// Connect dials the NATS server at url. originID distinguishes this
// instance's own publications so a subscribe handler can ignore
// self-originated relay traffic.
func Connect(url, originID string, m *metrics.Metrics) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("cluster bus disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("cluster bus reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			m.ClusterError()
			logger.Warn("cluster bus error", "error", err.Error())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to cluster bus: %w", err)
	}
	return &NATSBus{conn: conn, originID: originID, metrics: m}, nil
}

func operationSubject(documentID string) string { return "collabd.doc." + documentID + ".ops" }
func presenceSubject(documentID string) string  { return "collabd.doc." + documentID + ".presence" }

// PublishOperation broadcasts a locally accepted operation to peer instances.
func (b *NATSBus) PublishOperation(op RelayedOperation) error {
	op.OriginID = b.originID
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal relayed operation: %w", err)
	}
	if err := b.conn.Publish(operationSubject(op.DocumentID), data); err != nil {
		b.metrics.ClusterError()
		return fmt.Errorf("publish relayed operation: %w", err)
	}
	b.metrics.ClusterRelayed()
	return nil
}

// PublishPresence broadcasts a cursor or join/leave event to peer instances.
func (b *NATSBus) PublishPresence(p RelayedPresence) error {
	p.OriginID = b.originID
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal relayed presence: %w", err)
	}
	if err := b.conn.Publish(presenceSubject(p.DocumentID), data); err != nil {
		b.metrics.ClusterError()
		return fmt.Errorf("publish relayed presence: %w", err)
	}
	return nil
}

// SubscribeOperations registers handler for operations relayed for
// documentID by other instances, skipping this instance's own publications.
// The returned func unsubscribes.
func (b *NATSBus) SubscribeOperations(documentID string, handler func(RelayedOperation)) (func(), error) {
	sub, err := b.conn.Subscribe(operationSubject(documentID), func(msg *nats.Msg) {
		var op RelayedOperation
		if err := json.Unmarshal(msg.Data, &op); err != nil {
			logger.Warn("discarding malformed relayed operation", "error", err.Error())
			return
		}
		if op.OriginID == b.originID {
			return
		}
		handler(op)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to operation relay: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// SubscribePresence registers handler for presence events relayed for
// documentID by other instances.
func (b *NATSBus) SubscribePresence(documentID string, handler func(RelayedPresence)) (func(), error) {
	sub, err := b.conn.Subscribe(presenceSubject(documentID), func(msg *nats.Msg) {
		var p RelayedPresence
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			logger.Warn("discarding malformed relayed presence", "error", err.Error())
			return
		}
		if p.OriginID == b.originID {
			return
		}
		handler(p)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to presence relay: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close closes the underlying NATS connection without draining it.
func (b *NATSBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
