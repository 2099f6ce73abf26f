package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/collabd/collabd/internal/auth"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
	"github.com/collabd/collabd/pkg/hub"
)

type fakeTransport struct {
	inbound  chan []byte
	outbound chan []byte
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16), outbound: make(chan []byte, 16)}
}

func (t *fakeTransport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-t.inbound:
		if !ok {
			return 0, nil, websocket.CloseError{Code: websocket.StatusNormalClosure}
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	t.outbound <- data
	return nil
}

func (t *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	t.closed = true
	return nil
}

// testMetrics is shared by every test: metrics.New registers its collectors
// with the default Prometheus registry and may only be called once.
var testMetrics = metrics.New()

func testConfig() Config {
	return Config{
		ReadTimeout:        time.Second,
		WriteTimeout:       time.Second,
		OutboundBufferSize: 8,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}
}

func TestSessionSendsDocumentStateOnSubscribe(t *testing.T) {
	h := hub.New("doc-1", hub.Snapshot{Content: "hi"}, 1<<20, 100, time.Second, nil, testMetrics)
	transport := newFakeTransport()
	s := New("s1", "doc-1", auth.Principal{ID: "alice"}, transport, h, testConfig(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	var frame protocol.ServerFrame
	select {
	case data := <-transport.outbound:
		require.NoError(t, json.Unmarshal(data, &frame))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for document_state")
	}
	assert.Equal(t, protocol.ServerFrameDocumentState, frame.Kind)
	assert.Equal(t, "hi", frame.DocumentState.Content)

	close(transport.inbound)
	cancel()
	<-runDone
}

func TestSessionDispatchesOperationAndReceivesAck(t *testing.T) {
	h := hub.New("doc-1", hub.Snapshot{Content: "hi"}, 1<<20, 100, time.Second, nil, testMetrics)
	transport := newFakeTransport()
	s := New("s1", "doc-1", auth.Principal{ID: "alice"}, transport, h, testConfig(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	<-transport.outbound // document_state

	op := protocol.ClientFrame{Kind: protocol.ClientFrameOperation, Operation: &protocol.OperationIn{
		Type: "insert", Position: 2, Content: "!", ClientVersion: 0,
	}}
	data, err := json.Marshal(op)
	require.NoError(t, err)
	transport.inbound <- data

	select {
	case raw := <-transport.outbound:
		var frame protocol.ServerFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, protocol.ServerFrameOperationAck, frame.Kind)
		assert.Equal(t, 1, frame.OperationAck.Version)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for operation_ack")
	}
}

func TestSessionRepliesPongToPing(t *testing.T) {
	h := hub.New("doc-1", hub.Snapshot{Content: ""}, 1<<20, 100, time.Second, nil, testMetrics)
	transport := newFakeTransport()
	s := New("s1", "doc-1", auth.Principal{ID: "alice"}, transport, h, testConfig(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	<-transport.outbound // document_state

	data, _ := json.Marshal(protocol.ClientFrame{Kind: protocol.ClientFramePing})
	transport.inbound <- data

	select {
	case raw := <-transport.outbound:
		var frame protocol.ServerFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, protocol.ServerFramePong, frame.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func TestEnqueueReturnsFalseWhenBufferFull(t *testing.T) {
	h := hub.New("doc-1", hub.Snapshot{Content: ""}, 1<<20, 100, time.Second, nil, testMetrics)
	transport := newFakeTransport()
	cfg := testConfig()
	cfg.OutboundBufferSize = 1
	s := New("s1", "doc-1", auth.Principal{ID: "alice"}, transport, h, cfg, testMetrics)

	assert.True(t, s.Enqueue(protocol.NewPongFrame()))
	assert.False(t, s.Enqueue(protocol.NewPongFrame()), "buffer of size 1 is already full")
}
