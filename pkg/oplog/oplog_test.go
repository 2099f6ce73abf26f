package oplog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd/collabd/pkg/ot"
)

func TestAppendAssignsIncreasingVersions(t *testing.T) {
	l := New(0, 0)

	e1 := l.Append(ot.Operation{Kind: ot.Insert, Content: "a"}, "u1", time.Now())
	e2 := l.Append(ot.Operation{Kind: ot.Insert, Content: "b"}, "u1", time.Now())

	assert.Equal(t, 1, e1.ServerVersion)
	assert.Equal(t, 2, e2.ServerVersion)
	assert.Equal(t, 2, l.Length())
}

func TestTailSinceReturnsNewerEntries(t *testing.T) {
	l := New(0, 0)
	l.Append(ot.Operation{Kind: ot.Insert, Content: "a"}, "u1", time.Now())
	l.Append(ot.Operation{Kind: ot.Insert, Content: "b"}, "u2", time.Now())
	l.Append(ot.Operation{Kind: ot.Insert, Content: "c"}, "u1", time.Now())

	tail, ok := l.TailSince(1)
	require.True(t, ok)
	if assert.Len(t, tail, 2) {
		assert.Equal(t, "b", tail[0].Op.Content)
		assert.Equal(t, "c", tail[1].Op.Content)
	}
}

func TestTailSinceAtCurrentVersionIsEmpty(t *testing.T) {
	l := New(0, 0)
	l.Append(ot.Operation{Kind: ot.Insert, Content: "a"}, "u1", time.Now())

	tail, ok := l.TailSince(1)
	require.True(t, ok)
	assert.Empty(t, tail)
}

func TestRetentionWindowEvictsOldEntriesAndSignalsResync(t *testing.T) {
	l := New(0, 2)
	l.Append(ot.Operation{Kind: ot.Insert, Content: "a"}, "u1", time.Now())
	l.Append(ot.Operation{Kind: ot.Insert, Content: "b"}, "u1", time.Now())
	l.Append(ot.Operation{Kind: ot.Insert, Content: "c"}, "u1", time.Now())

	assert.Equal(t, 1, l.RetentionFloor())

	_, ok := l.TailSince(0)
	assert.False(t, ok, "version 0 is older than the retained window")

	tail, ok := l.TailSince(1)
	require.True(t, ok)
	assert.Len(t, tail, 2)
}

func TestLengthTracksVersionAcrossEviction(t *testing.T) {
	l := New(0, 1)
	l.Append(ot.Operation{Kind: ot.Insert, Content: "a"}, "u1", time.Now())
	l.Append(ot.Operation{Kind: ot.Insert, Content: "b"}, "u1", time.Now())

	assert.Equal(t, 2, l.Length())
}
