package coro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPSCRingPushPop(t *testing.T) {
	r := newSPSCRing[int](4, false, false)
	assert.True(t, r.IsEmpty())
	assert.EqualValues(t, 4, r.Capacity())

	for i := 0; i < 4; i++ {
		require.True(t, r.TryPush(i))
	}
	assert.False(t, r.TryPush(99), "ring should report full at capacity")

	for i := 0; i < 4; i++ {
		v, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.TryPop()
	assert.False(t, ok)
}

func TestSPSCRingFIFOAfterWrap(t *testing.T) {
	r := newSPSCRing[int](2, false, false)
	require.True(t, r.TryPush(1))
	require.True(t, r.TryPush(2))
	v, _ := r.TryPop()
	assert.Equal(t, 1, v)
	require.True(t, r.TryPush(3))
	v, _ = r.TryPop()
	assert.Equal(t, 2, v)
	v, _ = r.TryPop()
	assert.Equal(t, 3, v)
	assert.True(t, r.IsEmpty())
}

func TestSPSCCursorRejectsNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { newSPSCCursor(3, false, false) })
}

func TestSPSCCursorBlockingRequiresThreadSafe(t *testing.T) {
	assert.Panics(t, func() { newSPSCCursor(4, false, true) })
}

func TestSPSCCursorWaitForNotEmpty(t *testing.T) {
	c := newSPSCCursor(4, true, true)
	done := make(chan struct{})
	go func() {
		c.WaitForNotEmpty()
		close(done)
	}()
	c.PushNotify(1)
	<-done
	assert.False(t, c.IsEmpty())
}
