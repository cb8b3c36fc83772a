package coro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyAndFailed(t *testing.T) {
	var gotVal int
	var gotErr error
	Ready(7).Run(func(v int, err error) { gotVal, gotErr = v, err })
	assert.Equal(t, 7, gotVal)
	assert.NoError(t, gotErr)

	sentinel := errors.New("boom")
	Failed[int](sentinel).Run(func(v int, err error) { gotVal, gotErr = v, err })
	assert.Equal(t, 0, gotVal)
	assert.ErrorIs(t, gotErr, sentinel)
}

func TestTaskRunTwicePanics(t *testing.T) {
	task := Ready(1)
	task.Run(func(int, error) {})
	assert.Panics(t, func() { task.Run(func(int, error) {}) })
}

func TestTaskIsDone(t *testing.T) {
	task := NewTask(func(resume Continuation[int]) {})
	assert.False(t, task.IsDone())
	task.Run(func(int, error) {})
	assert.False(t, task.IsDone(), "start has not invoked resume yet")
}

func TestThenChainsOnSuccess(t *testing.T) {
	first := Ready(3)
	chained := Then(first, func(v int) *Task[int] { return Ready(v * 2) })
	var got int
	chained.Run(func(v int, err error) {
		require.NoError(t, err)
		got = v
	})
	assert.Equal(t, 6, got)
}

func TestThenPropagatesErrorWithoutRunningNext(t *testing.T) {
	sentinel := errors.New("boom")
	ran := false
	chained := Then(Failed[int](sentinel), func(v int) *Task[int] {
		ran = true
		return Ready(v)
	})
	var gotErr error
	chained.Run(func(_ int, err error) { gotErr = err })
	assert.ErrorIs(t, gotErr, sentinel)
	assert.False(t, ran)
}

func TestWhenReadyDiscardsValue(t *testing.T) {
	var gotErr error
	ran := false
	Ready(42).WhenReady().Run(func(_ struct{}, err error) {
		ran = true
		gotErr = err
	})
	assert.True(t, ran)
	assert.NoError(t, gotErr)
}

func TestDetachPanicsOnError(t *testing.T) {
	sentinel := errors.New("boom")
	assert.Panics(t, func() {
		Failed[int](sentinel).Detach()
	})
}

func TestDetachDoesNotPanicOnSuccess(t *testing.T) {
	assert.NotPanics(t, func() {
		Ready(1).Detach()
	})
}
