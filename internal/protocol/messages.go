// Package protocol defines the WebSocket wire format between a subscriber
// session and its client: the inbound frame kinds {operation,
// cursor_position, ping} and the outbound frame kinds {document_state,
// operation, operation_ack, cursor_update, user_joined, user_left, pong,
// error}.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/collabd/collabd/pkg/ot"
)

// ClientFrame is one inbound message; Kind disambiguates on the wire. An
// operation frame sets Operation, a cursor_position frame sets Cursor and
// optionally Selection, and a ping frame carries no payload.
type ClientFrame struct {
	Kind          string         `json:"kind"`
	Operation     *OperationIn   `json:"operation,omitempty"`
	Cursor        *CursorIn      `json:"cursor,omitempty"`
	Selection     *SelectionIn   `json:"selection,omitempty"`
}

// OperationIn is the operation payload a client submits.
type OperationIn struct {
	Type          string `json:"type"` // "insert", "delete", "retain"
	Position      int    `json:"position"`
	Content       string `json:"content,omitempty"`
	Length        int    `json:"length,omitempty"`
	ClientVersion int    `json:"client_version"`
}

// CursorIn is the cursor payload of a cursor_position frame.
type CursorIn struct {
	Position int `json:"position"`
	Line     int `json:"line,omitempty"`
}

// SelectionIn is the optional selection range accompanying a cursor update.
type SelectionIn struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

const (
	ClientFrameOperation      = "operation"
	ClientFrameCursorPosition = "cursor_position"
	ClientFramePing           = "ping"
)

// ParseClientFrame decodes a raw inbound text frame. An error here means
// the frame is structurally unparseable; the caller drops it and leaves
// the connection open rather than tearing it down over one bad frame.
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("unparseable frame: %w", err)
	}
	return frame, nil
}

// ToOperation converts the wire OperationIn into the algebra's Operation,
// normalizing kind and carrying base_version forward as BaseVersion.
func (in OperationIn) ToOperation() (ot.Operation, error) {
	var kind ot.Kind
	switch in.Type {
	case "insert":
		kind = ot.Insert
	case "delete":
		kind = ot.Delete
	case "retain":
		kind = ot.Retain
	default:
		return ot.Operation{}, fmt.Errorf("unknown operation type %q", in.Type)
	}

	op := ot.Operation{
		Kind:        kind,
		Position:    in.Position,
		Content:     in.Content,
		Length:      in.Length,
		BaseVersion: in.ClientVersion,
	}
	return op.Normalize(), nil
}

// ActiveUser describes one subscriber in a document_state snapshot.
type ActiveUser struct {
	ID        string       `json:"id"`
	Username  string       `json:"username"`
	Cursor    *CursorIn    `json:"cursor,omitempty"`
	Selection *SelectionIn `json:"selection,omitempty"`
}

// DocumentState is sent once to a session immediately after Subscribe.
type DocumentState struct {
	Content     string       `json:"content"`
	Version     int          `json:"version"`
	ActiveUsers []ActiveUser `json:"active_users"`
}

// OperationOut is the fan-out frame broadcast to every subscriber except
// the originator.
type OperationOut struct {
	Operation OperationWire `json:"operation"`
	Version   int           `json:"version"`
	UserID    string        `json:"user_id"`
	Username  string        `json:"username"`
}

// OperationWire is the wire encoding of an accepted, transformed operation.
type OperationWire struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
	Content  string `json:"content,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// FromOperation renders an algebra Operation for the wire.
func FromOperation(op ot.Operation) OperationWire {
	return OperationWire{
		Type:     op.Kind.String(),
		Position: op.Position,
		Content:  op.Content,
		Length:   op.Length,
	}
}

// OperationAck is sent only to the originator of an accepted submission.
type OperationAck struct {
	Version    int   `json:"version"`
	ServerTime int64 `json:"server_time"`
}

// CursorUpdate is broadcast to all other subscribers on a cursor_position
// frame.
type CursorUpdate struct {
	UserID    string       `json:"user_id"`
	Username  string       `json:"username"`
	Cursor    *CursorIn    `json:"cursor,omitempty"`
	Selection *SelectionIn `json:"selection,omitempty"`
}

// PresenceEvent backs both user_joined and user_left.
type PresenceEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ErrorFrame carries a message and optional machine-readable code.
type ErrorFrame struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	ServerFrameDocumentState = "document_state"
	ServerFrameOperation     = "operation"
	ServerFrameOperationAck  = "operation_ack"
	ServerFrameCursorUpdate  = "cursor_update"
	ServerFrameUserJoined    = "user_joined"
	ServerFrameUserLeft      = "user_left"
	ServerFramePong          = "pong"
	ServerFrameError         = "error"
)

// ServerFrame is one outbound message; Kind names which payload field is
// populated. Only one payload field is ever non-nil per frame.
type ServerFrame struct {
	Kind          string         `json:"kind"`
	DocumentState *DocumentState `json:"document_state,omitempty"`
	Operation     *OperationOut  `json:"operation_broadcast,omitempty"`
	OperationAck  *OperationAck  `json:"operation_ack,omitempty"`
	CursorUpdate  *CursorUpdate  `json:"cursor_update,omitempty"`
	Presence      *PresenceEvent `json:"presence,omitempty"`
	Error         *ErrorFrame    `json:"error,omitempty"`
}

func NewDocumentStateFrame(s DocumentState) ServerFrame {
	return ServerFrame{Kind: ServerFrameDocumentState, DocumentState: &s}
}

func NewOperationFrame(o OperationOut) ServerFrame {
	return ServerFrame{Kind: ServerFrameOperation, Operation: &o}
}

func NewOperationAckFrame(a OperationAck) ServerFrame {
	return ServerFrame{Kind: ServerFrameOperationAck, OperationAck: &a}
}

func NewCursorUpdateFrame(c CursorUpdate) ServerFrame {
	return ServerFrame{Kind: ServerFrameCursorUpdate, CursorUpdate: &c}
}

func NewUserJoinedFrame(p PresenceEvent) ServerFrame {
	return ServerFrame{Kind: ServerFrameUserJoined, Presence: &p}
}

func NewUserLeftFrame(p PresenceEvent) ServerFrame {
	return ServerFrame{Kind: ServerFrameUserLeft, Presence: &p}
}

func NewPongFrame() ServerFrame {
	return ServerFrame{Kind: ServerFramePong}
}

func NewErrorFrame(message, code string) ServerFrame {
	return ServerFrame{Kind: ServerFrameError, Error: &ErrorFrame{Message: message, Code: code}}
}
