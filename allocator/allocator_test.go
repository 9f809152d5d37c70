package allocator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdtn-project/bundlestore/segment"
)

func TestAllocateChain_LowestNumberedFirst(t *testing.T) {
	a := New(10)
	ids, err := a.AllocateChain(3)
	require.NoError(t, err)
	assert.Equal(t, []segment.ID{0, 1, 2}, ids)
	assert.Equal(t, uint64(7), a.FreeCount())
}

func TestAllocateChain_OutOfSpaceRollsBackPartialAllocation(t *testing.T) {
	a := New(4)
	_, err := a.AllocateChain(3)
	require.NoError(t, err)

	_, err = a.AllocateChain(5)
	require.ErrorIs(t, err, ErrOutOfSpace)
	// Only 3 of 4 were taken by the first call; the failed second call must
	// not leave any of the segments it speculatively took still allocated.
	assert.Equal(t, uint64(1), a.FreeCount())
}

func TestFreeChain_MakesSegmentsAllocatableAgain(t *testing.T) {
	a := New(4)
	ids, err := a.AllocateChain(4)
	require.NoError(t, err)

	require.NoError(t, a.FreeChain(ids[1:3]))
	assert.Equal(t, uint64(2), a.FreeCount())

	again, err := a.AllocateChain(2)
	require.NoError(t, err)
	assert.Equal(t, ids[1:3], again)
}

func TestFreeChain_DoubleFreeIsInvalid(t *testing.T) {
	a := New(4)
	ids, err := a.AllocateChain(2)
	require.NoError(t, err)

	require.NoError(t, a.FreeChain(ids))
	err = a.FreeChain(ids)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestFreeChain_OutOfRangeIsInvalid(t *testing.T) {
	a := New(4)
	err := a.FreeChain([]segment.ID{99})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestAllocateSpecific_ReAbsorbsOccupiedSegment(t *testing.T) {
	a := New(4)
	require.True(t, a.IsFree(2))
	require.NoError(t, a.AllocateSpecific(2))
	assert.False(t, a.IsFree(2))
	assert.Equal(t, uint64(3), a.FreeCount())

	err := a.AllocateSpecific(2)
	assert.True(t, errors.Is(err, ErrInvalidID))
}

func TestAllocateChain_ExhaustsEntireCapacityAcrossMultipleLevels(t *testing.T) {
	// Capacity larger than one fan-out word (64) exercises summary
	// propagation across more than one tree level.
	const capacity = 200
	a := New(capacity)

	ids, err := a.AllocateChain(capacity)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.FreeCount())

	seen := make(map[segment.ID]bool, capacity)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}

	_, err = a.AllocateChain(1)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	require.NoError(t, a.FreeChain(ids))
	assert.Equal(t, uint64(capacity), a.FreeCount())
}

func TestSnapshot_RoundTripsThroughEqualsSnapshot(t *testing.T) {
	a := New(128)
	_, err := a.AllocateChain(50)
	require.NoError(t, err)

	snap := a.Snapshot()

	b := New(128)
	ok, err := b.EqualsSnapshot(snap)
	require.NoError(t, err)
	assert.False(t, ok, "freshly constructed allocator should not match an occupied snapshot")

	ids, err := b.AllocateChain(50)
	require.NoError(t, err)

	ok, err = b.EqualsSnapshot(snap)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.FreeChain(ids[:1]))
	ok, err = b.EqualsSnapshot(snap)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEqualsSnapshot_RejectsCorruptData(t *testing.T) {
	a := New(16)
	_, err := a.EqualsSnapshot(nil)
	assert.Error(t, err)
}
