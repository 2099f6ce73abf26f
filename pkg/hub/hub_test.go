package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd/collabd/internal/auth"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/protocol"
	"github.com/collabd/collabd/pkg/ot"
)

type fakeOutbound struct {
	frames []protocol.ServerFrame
	full   bool
}

func (f *fakeOutbound) Enqueue(frame protocol.ServerFrame) bool {
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

// testMetrics is shared by every test: metrics.New registers its collectors
// with the default Prometheus registry and may only be called once.
var testMetrics = metrics.New()

func newTestHub() *Hub {
	return New("doc-1", Snapshot{Content: "hello"}, 1<<20, 100, time.Millisecond, nil, testMetrics)
}

func TestSubscribeReturnsSnapshotAndBroadcastsJoin(t *testing.T) {
	h := newTestHub()
	alice := &fakeOutbound{}
	bob := &fakeOutbound{}

	state := h.Subscribe("s1", auth.Principal{ID: "alice", Name: "Alice"}, alice)
	assert.Equal(t, "hello", state.Content)
	assert.Equal(t, 0, state.Version)
	assert.Empty(t, state.ActiveUsers)

	state2 := h.Subscribe("s2", auth.Principal{ID: "bob", Name: "Bob"}, bob)
	require.Len(t, state2.ActiveUsers, 1)
	assert.Equal(t, "alice", state2.ActiveUsers[0].ID)

	require.Len(t, alice.frames, 1)
	assert.Equal(t, protocol.ServerFrameUserJoined, alice.frames[0].Kind)
	assert.Equal(t, "bob", alice.frames[0].Presence.UserID)
}

func TestSubmitAppliesAndBroadcastsToOthersNotOriginator(t *testing.T) {
	h := newTestHub()
	alice := &fakeOutbound{}
	bob := &fakeOutbound{}
	h.Subscribe("s1", auth.Principal{ID: "alice", Name: "Alice"}, alice)
	h.Subscribe("s2", auth.Principal{ID: "bob", Name: "Bob"}, bob)
	bob.frames = nil

	ack, err := h.Submit("s1", auth.Principal{ID: "alice", Name: "Alice"}, ot.Operation{
		Kind: ot.Insert, Position: 5, Content: " world", BaseVersion: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Version)

	require.Len(t, bob.frames, 1)
	assert.Equal(t, protocol.ServerFrameOperation, bob.frames[0].Kind)
	assert.Equal(t, "hello world", h.Snapshot().Content)

	for _, f := range alice.frames {
		assert.NotEqual(t, protocol.ServerFrameOperation, f.Kind, "originator must not receive its own op broadcast")
	}
}

func TestSubmitStaleBaseVersionRequiresResync(t *testing.T) {
	h := New("doc-1", Snapshot{Content: "hello"}, 1<<20, 2, time.Millisecond, nil, testMetrics)
	alice := &fakeOutbound{}
	h.Subscribe("s1", auth.Principal{ID: "alice"}, alice)

	for i := 0; i < 3; i++ {
		_, err := h.Submit("s1", auth.Principal{ID: "alice"}, ot.Operation{Kind: ot.Insert, Position: 0, Content: "x"})
		require.NoError(t, err)
	}

	_, err := h.Submit("s1", auth.Principal{ID: "alice"}, ot.Operation{Kind: ot.Insert, Position: 0, Content: "y", BaseVersion: 0})
	assert.ErrorContains(t, err, "resync")
}

func TestSubmitInvalidOperationIsRejectedWithoutMutatingState(t *testing.T) {
	h := newTestHub()
	h.Subscribe("s1", auth.Principal{ID: "alice"}, &fakeOutbound{})

	_, err := h.Submit("s1", auth.Principal{ID: "alice"}, ot.Operation{
		Kind: ot.Delete, Position: 100, Length: 5, BaseVersion: 0,
	})
	assert.Error(t, err)
	assert.Equal(t, "hello", h.Snapshot().Content)
}

func TestCursorUpdateDoesNotAdvanceVersion(t *testing.T) {
	h := newTestHub()
	h.Subscribe("s1", auth.Principal{ID: "alice"}, &fakeOutbound{})
	bob := &fakeOutbound{}
	h.Subscribe("s2", auth.Principal{ID: "bob"}, bob)
	bob.frames = nil

	before := h.Snapshot().ServerVersion
	h.CursorUpdate("s1", auth.Principal{ID: "alice", Name: "Alice"}, &protocol.CursorIn{Position: 3}, nil)
	assert.Equal(t, before, h.Snapshot().ServerVersion)

	require.Len(t, bob.frames, 1)
	assert.Equal(t, protocol.ServerFrameCursorUpdate, bob.frames[0].Kind)
}

func TestUnsubscribeBroadcastsUserLeftAndStartsDraining(t *testing.T) {
	h := newTestHub()
	alice := &fakeOutbound{}
	bob := &fakeOutbound{}
	h.Subscribe("s1", auth.Principal{ID: "alice"}, alice)
	h.Subscribe("s2", auth.Principal{ID: "bob", Name: "Bob"}, bob)
	alice.frames = nil

	remaining := h.Unsubscribe("s2")
	assert.Equal(t, 1, remaining)
	assert.Equal(t, Active, h.State())

	require.Len(t, alice.frames, 1)
	assert.Equal(t, protocol.ServerFrameUserLeft, alice.frames[0].Kind)

	assert.Equal(t, 0, h.Unsubscribe("s1"))
	assert.Equal(t, Draining, h.State())
}

func TestHubBecomesReclaimableAfterGracePeriod(t *testing.T) {
	h := newTestHub()
	h.Subscribe("s1", auth.Principal{ID: "alice"}, &fakeOutbound{})
	h.Unsubscribe("s1")

	assert.False(t, h.ReadyForReclamation(time.Now()))
	assert.True(t, h.ReadyForReclamation(time.Now().Add(10*time.Millisecond)))

	h.Reclaim()
	assert.Equal(t, Reclaimed, h.State())
}

func TestSlowConsumerBroadcastIsDroppedNotBlocking(t *testing.T) {
	h := newTestHub()
	alice := &fakeOutbound{}
	slow := &fakeOutbound{full: true}
	h.Subscribe("s1", auth.Principal{ID: "alice"}, alice)
	h.Subscribe("s2", auth.Principal{ID: "slow"}, slow)
	alice.frames = nil

	_, err := h.Submit("s1", auth.Principal{ID: "alice"}, ot.Operation{Kind: ot.Insert, Position: 0, Content: "x"})
	require.NoError(t, err)
	assert.Len(t, alice.frames, 0, "originator receives no broadcast of its own op")
}
