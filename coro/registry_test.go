package coro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyCountTracksWorkerEnterExit(t *testing.T) {
	rt := NewRuntime()
	assert.EqualValues(t, 0, rt.readyCount())

	rt.workerEnter()
	rt.workerEnter()
	assert.EqualValues(t, 2, rt.readyCount())

	rt.workerExit()
	assert.EqualValues(t, 1, rt.readyCount())

	rt.workerExit()
	assert.EqualValues(t, 0, rt.readyCount())
}

func TestSpawnSameWorkerPushesDirectly(t *testing.T) {
	rt := NewRuntime()
	w := newStubWorker()
	w.rt = rt

	ran := false
	rt.Spawn(w, w, func() { ran = true })

	cont, ok := w.ready.TryPop()
	require.True(t, ok)
	cont()
	assert.True(t, ran)
}

func TestSpawnDuringStartupPushesDirectly(t *testing.T) {
	rt := NewRuntime()
	from := newStubWorker()
	target := newStubWorker()
	from.rt, target.rt = rt, rt
	// readyCount() == 0: nobody has entered a loop yet.

	ran := false
	rt.Spawn(from, target, func() { ran = true })

	cont, ok := target.ready.TryPop()
	require.True(t, ok)
	cont()
	assert.True(t, ran)
	assert.True(t, from.ready.IsEmpty())
}

func TestSpawnRejectsNilContinuation(t *testing.T) {
	rt := NewRuntime()
	w := newStubWorker()
	w.rt = rt
	assert.NotPanics(t, func() { rt.Spawn(w, w, nil) })
	assert.True(t, w.ready.IsEmpty())
}

func TestStartRejectsZeroWorkers(t *testing.T) {
	rt := NewRuntime()
	err := rt.Start(context.Background(), 0)
	assert.Error(t, err)
}

func TestStartRejectsTooManyWorkers(t *testing.T) {
	rt := NewRuntime(WithMaxWorkers(2))
	err := rt.Start(context.Background(), 3)
	assert.Error(t, err)
}

func TestDefaultRuntimeIsASingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}

func TestAwaitStartupBarrierTimesOutWithoutWorkers(t *testing.T) {
	rt := NewRuntime()
	rt.createdCount = 1
	start := time.Now()
	err := rt.awaitStartupBarrier(1)
	assert.ErrorIs(t, err, ErrRegistryTimeout)
	assert.GreaterOrEqual(t, time.Since(start), startupBarrierTimeout)
}
