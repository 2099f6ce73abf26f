package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyInsert(t *testing.T) {
	assert.Equal(t, "aXbc", Apply("abc", ins(1, "X")))
}

func TestApplyDelete(t *testing.T) {
	assert.Equal(t, "ac", Apply("abc", del(1, 1, "b")))
}

func TestApplyRetainIsNoop(t *testing.T) {
	assert.Equal(t, "abc", Apply("abc", Operation{Kind: Retain}))
}

func TestApplyClampsInsertPastEnd(t *testing.T) {
	assert.Equal(t, "abcX", Apply("abc", ins(100, "X")))
}

func TestApplyClampsDeletePastEnd(t *testing.T) {
	assert.Equal(t, "a", Apply("abc", del(1, 100, "")))
}

func TestApplyNeverPanicsOnNegativePosition(t *testing.T) {
	assert.NotPanics(t, func() {
		Apply("abc", Operation{Kind: Delete, Position: -5, Length: 2})
	})
}

func TestValidateSound(t *testing.T) {
	assert.True(t, Validate(ins(3, "x"), 3))
	assert.False(t, Validate(ins(4, "x"), 3))
	assert.True(t, Validate(del(0, 3, "abc"), 3))
	assert.False(t, Validate(del(1, 3, "abc"), 3))
}

func TestValidateSoundnessImpliesClampedApply(t *testing.T) {
	content := "abc"
	op := del(1, 10, "")
	if !Validate(op, len([]rune(content))) {
		result := Apply(content, op)
		assert.Equal(t, "a", result, "out-of-bounds delete still clamps safely")
	}
}
