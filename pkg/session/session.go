// Package session implements the Subscriber Session: the per-connection
// owner of one client's websocket transport, responsible for inbound frame
// parsing/dispatch, outbound FIFO delivery, per-session rate limiting, and
// back-pressure eviction. A context-scoped read loop and a writer goroutine
// draining a buffered outbound channel run concurrently per session, with
// golang.org/x/time/rate bounding the inbound operation rate.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/collabd/collabd/internal/auth"
	"github.com/collabd/collabd/internal/collabderr"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
	"github.com/collabd/collabd/pkg/hub"
	"github.com/collabd/collabd/pkg/logger"
)

// Transport is the websocket surface a session needs; satisfied by
// *websocket.Conn, narrowed for testability.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Config bounds a session's resource usage.
type Config struct {
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	OutboundBufferSize  int
	RateLimitPerSecond  float64
	RateLimitBurst      int
}

// Session owns one client connection to one document's hub.
type Session struct {
	id         string
	documentID string
	principal  auth.Principal
	transport  Transport
	h          *hub.Hub
	cfg        Config
	limiter    *rate.Limiter
	metrics    *metrics.Metrics

	outbound chan protocol.ServerFrame
	done     chan struct{}
}

// New constructs a Session. The caller must call Run to drive it.
func New(id, documentID string, principal auth.Principal, transport Transport, h *hub.Hub, cfg Config, m *metrics.Metrics) *Session {
	return &Session{
		id:         id,
		documentID: documentID,
		principal:  principal,
		transport:  transport,
		h:          h,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		metrics:    m,
		outbound:   make(chan protocol.ServerFrame, cfg.OutboundBufferSize),
		done:       make(chan struct{}),
	}
}

// Enqueue implements hub.Outbound: a non-blocking push onto this session's
// outbound buffer. Returns false if the buffer is full, signaling the hub
// (and this session's writer loop) that the session is a slow consumer.
func (s *Session) Enqueue(frame protocol.ServerFrame) bool {
	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}

// Run drives the session until ctx is canceled, the transport closes, or
// the session is evicted as a slow consumer. It subscribes to the hub
// before returning control, and unsubscribes on every exit path.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	initial := s.h.Subscribe(s.id, s.principal, s)
	if err := s.writeFrame(ctx, protocol.NewDocumentStateFrame(initial)); err != nil {
		s.h.Unsubscribe(s.id)
		return fmt.Errorf("send document_state: %w", err)
	}

	writerDone := make(chan error, 1)
	go func() { writerDone <- s.writeLoop(ctx) }()

	readErr := s.readLoop(ctx)
	cancel()
	<-writerDone

	remaining := s.h.Unsubscribe(s.id)
	logger.Debug("session ended", "session_id", s.id, "document_id", s.documentID, "remaining_subscribers", remaining)
	return readErr
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
		_, data, err := s.transport.Read(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		frame, err := protocol.ParseClientFrame(data)
		if err != nil {
			logger.Warn("dropping invalid frame", "session_id", s.id, "error", err.Error())
			continue
		}

		if frame.Kind == protocol.ClientFrameOperation && !s.limiter.Allow() {
			s.metrics.RateLimitRejected()
			continue
		}

		if err := s.dispatch(ctx, frame); err != nil {
			logger.Warn("frame dispatch error", "session_id", s.id, "error", err.Error())
		}
	}
}

func (s *Session) dispatch(ctx context.Context, frame protocol.ClientFrame) error {
	switch frame.Kind {
	case protocol.ClientFrameOperation:
		if frame.Operation == nil {
			return nil
		}
		op, err := frame.Operation.ToOperation()
		if err != nil {
			return s.writeFrame(ctx, protocol.NewErrorFrame(err.Error(), "invalid_operation"))
		}
		ack, err := s.h.Submit(s.id, s.principal, op)
		if err != nil {
			return s.writeFrame(ctx, protocol.NewErrorFrame(err.Error(), collabderr.Code(err)))
		}
		return s.writeFrame(ctx, protocol.NewOperationAckFrame(ack))

	case protocol.ClientFrameCursorPosition:
		s.h.CursorUpdate(s.id, s.principal, frame.Cursor, frame.Selection)
		return nil

	case protocol.ClientFramePing:
		return s.writeFrame(ctx, protocol.NewPongFrame())

	default:
		logger.Warn("dropping unknown frame kind", "session_id", s.id, "kind", frame.Kind)
		return nil
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-s.outbound:
			if !ok {
				return nil
			}
			if err := s.writeFrame(ctx, frame); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}

func (s *Session) writeFrame(ctx context.Context, frame protocol.ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return s.transport.Write(writeCtx, websocket.MessageText, data)
}
