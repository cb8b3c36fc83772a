package coro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStubWorker builds a Worker with a ready queue and logger but no
// backing kernel ring, for exercising completion dispatch and ready
// queue bookkeeping in isolation. Any method that would touch w.ring
// (drainAvailable, blockAndDrain, submit, prepare) is out of scope for
// these tests; they are covered against a real ring in
// integration_test.go instead.
func newStubWorker() *Worker {
	cfg := DefaultConfig()
	return &Worker{
		id:      0,
		ready:   newSPSCRing[func()](16, false, false),
		pending: make(map[uintptr]any),
		cfg:     cfg,
		logger:  effectiveLogger(nil),
	}
}

func TestHandleCompletionTaskInfoPtrPushesContinuation(t *testing.T) {
	w := newStubWorker()
	w.toReap = 1

	info := &taskInfo{}
	ran := false
	info.resume = func() { ran = true }
	ud := info.asUserData(tagTaskInfoPtr)

	w.handleCompletion(ud, 42)

	assert.EqualValues(t, 0, w.toReap)
	assert.EqualValues(t, int32(42), info.result)
	assert.EqualValues(t, 1, w.ready.Len())

	cont, ok := w.ready.TryPop()
	require.True(t, ok)
	cont()
	assert.True(t, ran)
}

func TestHandleCompletionLinkedChainDoesNotPush(t *testing.T) {
	w := newStubWorker()
	w.toReap = 1

	info := &taskInfo{}
	ud := info.asUserData(tagTaskInfoPtrLinkedChain)

	w.handleCompletion(ud, 7)

	assert.EqualValues(t, int32(7), info.result)
	assert.True(t, w.ready.IsEmpty())
}

func TestHandleCompletionRawHandlePushesDirectly(t *testing.T) {
	w := newStubWorker()
	w.toReap = 1

	ran := false
	ud := encodeUserData(boxContinuation(func() { ran = true }), tagRawCoroutineHandle)

	w.handleCompletion(ud, 0)

	cont, ok := w.ready.TryPop()
	require.True(t, ok)
	cont()
	assert.True(t, ran)
}

func TestHandleCompletionMsgRingLeavesToReapUnchanged(t *testing.T) {
	w := newStubWorker()
	w.rt = NewRuntime()
	w.toReap = 3 // unrelated in-flight ops on this worker

	ud := encodeUserData(boxContinuation(func() {}), tagMsgRingDelivery)
	w.handleCompletion(ud, 0)

	// the unsolicited completion decrements once, the MsgRingDelivery
	// case increments once to cancel that out: net unchanged.
	assert.EqualValues(t, 3, w.toReap)
	assert.EqualValues(t, 1, w.ready.Len())
}

func TestHandleCompletionReservedNoneIsDiscarded(t *testing.T) {
	w := newStubWorker()
	w.toReap = 1
	assert.NotPanics(t, func() { w.handleCompletion(reservedNone, 0) })
	assert.True(t, w.ready.IsEmpty())
}

func TestHandleCompletionReservedNopIsDiscardedSilently(t *testing.T) {
	w := newStubWorker()
	w.toReap = 1
	w.handleCompletion(reservedNop, 0)
	assert.True(t, w.ready.IsEmpty())
}

func TestPushReadyRejectsNilContinuation(t *testing.T) {
	w := newStubWorker()
	assert.NotPanics(t, func() { w.pushReady(nil) })
	assert.True(t, w.ready.IsEmpty())
}

func TestPushReadyPanicsWhenSaturated(t *testing.T) {
	w := &Worker{ready: newSPSCRing[func()](1, false, false), logger: effectiveLogger(nil)}
	require.True(t, w.ready.TryPush(func() {}))
	assert.Panics(t, func() { w.pushReady(func() {}) })
}

func TestPrepareRejectsStoppedWorker(t *testing.T) {
	w := newStubWorker()
	w.stopped = true
	assert.PanicsWithError(t, "coro: coro: worker has stopped", func() {
		w.prepare(func() error { return nil })
	})
}
