package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotAllocator_AcquireLowestFree(t *testing.T) {
	a := NewSlotAllocator(3)

	for want := 0; want < 3; want++ {
		got, ok := a.Acquire()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := a.Acquire()
	assert.False(t, ok, "allocator should be exhausted")
	assert.Equal(t, 0, a.Free())

	assert.True(t, a.Release(1))
	got, ok := a.Acquire()
	assert.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestSlotAllocator_ReleaseExactlyOnce(t *testing.T) {
	a := NewSlotAllocator(2)
	s, _ := a.Acquire()

	assert.True(t, a.Release(s))
	assert.False(t, a.Release(s), "second release must be rejected")
	assert.False(t, a.Release(-1))
	assert.False(t, a.Release(5))
	assert.Equal(t, 0, a.InUse())
}

func TestSlotAllocator_ResetAndResize(t *testing.T) {
	a := NewSlotAllocator(2)
	a.Acquire()
	a.Acquire()

	a.Reset()
	assert.Equal(t, 0, a.InUse())
	assert.Equal(t, 2, a.Free())

	a.Acquire()
	a.Resize(4)
	assert.Equal(t, 4, a.Servers())
	assert.Equal(t, 0, a.InUse())

	a.Resize(-1)
	_, ok := a.Acquire()
	assert.False(t, ok)
}
