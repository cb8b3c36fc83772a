package coro

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// startupBarrierTimeout bounds how long Start waits for every launched
// worker to cross into its run loop before giving up.
const startupBarrierTimeout = time.Second

// Runtime is the process-wide registry of workers: a mutex-guarded
// created count and an atomic live-and-ready count observed across
// workers, plus the errgroup that owns their goroutines' lifetimes. The
// mutex is taken only at worker construction, the start-up barrier
// wait, teardown and cross-ring message bookkeeping - never on the I/O
// hot path.
type Runtime struct {
	// mu/cond guard createdCount, the start-up barrier wait and
	// pendingMsg - readyCount, the one thing read every loop
	// iteration by every worker, is a plain atomic load instead so the
	// registry mutex is never touched on the I/O hot path.
	mu   sync.Mutex
	cond *sync.Cond

	createdCount uint8
	liveReady    atomic.Uint32

	// pendingMsg retains a cross-ring message's boxed continuation from
	// the moment it is sent until the receiving worker's completion
	// releases it - a genuine cross-goroutine hand-off (boxed on the
	// sender, released on the receiver), unlike the per-worker taskInfo
	// bookkeeping, so it lives here behind mu rather than on a Worker.
	pendingMsg map[uintptr]any

	cfg     Config
	workers []*Worker

	eg    *errgroup.Group
	egCtx context.Context
}

// NewRuntime constructs a Runtime with the given options layered over
// DefaultConfig. No workers exist until Start is called.
func NewRuntime(opts ...Option) *Runtime {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	rt := &Runtime{cfg: cfg, pendingMsg: make(map[uintptr]any)}
	rt.cond = sync.NewCond(&rt.mu)
	return rt
}

// Start constructs n workers, launches each on its own goroutine under
// an errgroup (so a fatal error in one worker cancels the group's
// context for the rest), and blocks until every worker has crossed its
// start-up barrier - i.e. until created_count == ready_count == n. If
// that does not happen within startupBarrierTimeout, Start returns
// ErrRegistryTimeout; workers already launched are not stopped.
func (rt *Runtime) Start(ctx context.Context, n uint8) error {
	if n == 0 {
		return fmt.Errorf("coro: Start requires at least one worker")
	}
	if n > rt.cfg.MaxWorkers {
		return fmt.Errorf("coro: %d workers exceeds configured MaxWorkers %d", n, rt.cfg.MaxWorkers)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	rt.eg = eg
	rt.egCtx = egCtx

	rt.workers = make([]*Worker, 0, n)
	for i := uint8(0); i < n; i++ {
		w, err := newWorker(i, rt, rt.cfg)
		if err != nil {
			return err
		}
		rt.workers = append(rt.workers, w)
		rt.mu.Lock()
		rt.createdCount++
		rt.mu.Unlock()
	}

	for _, w := range rt.workers {
		w := w
		eg.Go(func() error { return w.Run(egCtx) })
	}

	return rt.awaitStartupBarrier(n)
}

// awaitStartupBarrier blocks until liveReady (incremented by
// Worker.Run via workerEnter) equals createdCount, bounded by
// startupBarrierTimeout. workerExit decrements both, so a worker that
// has already entered and left its loop does not hold the barrier up.
func (rt *Runtime) awaitStartupBarrier(n uint8) error {
	done := make(chan struct{})
	go func() {
		rt.mu.Lock()
		for uint8(rt.liveReady.Load()) != rt.createdCount {
			rt.cond.Wait()
		}
		rt.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(startupBarrierTimeout):
		return ErrRegistryTimeout
	}
}

// Wait blocks until every worker has returned, surfacing the first
// non-nil error any of them produced (errgroup.Group semantics).
func (rt *Runtime) Wait() error {
	return rt.eg.Wait()
}

// NumWorkers returns how many workers Start launched.
func (rt *Runtime) NumWorkers() int { return len(rt.workers) }

// WorkerAt returns the i'th worker, launched by the most recent Start.
func (rt *Runtime) WorkerAt(i int) *Worker { return rt.workers[i] }

// workerEnter is called once by Worker.Run, just before entering its
// loop, incrementing the live-and-ready count and waking anyone blocked
// in awaitStartupBarrier.
func (rt *Runtime) workerEnter() {
	rt.liveReady.Add(1)
	rt.mu.Lock()
	rt.cond.Broadcast()
	rt.mu.Unlock()
}

// workerExit is called once by Worker.Run, via defer, as it returns.
func (rt *Runtime) workerExit() {
	rt.liveReady.Add(^uint32(0)) // -1
	rt.mu.Lock()
	rt.createdCount--
	rt.cond.Broadcast()
	rt.mu.Unlock()
}

// readyCount reports how many workers are currently executing their
// loop, the quantity Worker.complete checks for quiescent shutdown. A
// plain atomic load: this is read on every loop iteration by every
// worker and must never contend on the registry mutex.
func (rt *Runtime) readyCount() uint8 {
	return uint8(rt.liveReady.Load())
}

// Spawn schedules cont to run on target, the cross-worker posting
// operation. from is the worker the caller is currently executing on
// (there is no thread-local "current worker" here, so callers always
// have it in hand already, as the Worker their own code is running
// inside).
//
// Three cases, in order:
//   - from == target: same loop, no hand-off needed; push directly.
//   - target's registry-wide ready_count == 0: no worker has entered its
//     loop yet, so nothing can be racing the target's queue; push
//     directly.
//   - otherwise: route through the kernel. The sender reserves an SQE on
//     its own ring tagged as a discardable no-op, and prepares a
//     msg_ring entry whose payload is cont boxed and tagged
//     tagMsgRingDelivery; the target observes it as an ordinary
//     completion and forwards it to its own ready queue.
func (rt *Runtime) Spawn(from, target *Worker, cont func()) {
	if cont == nil {
		from.logger.Error(ErrNilContinuation.Error())
		return
	}
	if from == target || rt.readyCount() == 0 {
		target.pushReady(cont)
		return
	}

	box := boxContinuation(cont)
	payload := encodeUserData(box, tagMsgRingDelivery)
	rt.retainMsg(box)
	from.prepare(func() error {
		return from.ring.PrepMsgRing(target.Fd(), payload, 0, reservedNop)
	})
	from.toSubmit++
	from.toReap++
}

// retainMsg keeps a boxed cross-ring continuation reachable between
// send and receive, guarded by mu since insertion happens on the
// sending worker's goroutine and deletion on the receiving worker's.
func (rt *Runtime) retainMsg(ptr unsafe.Pointer) {
	rt.mu.Lock()
	rt.pendingMsg[uintptr(ptr)] = ptr
	rt.mu.Unlock()
}

// releaseMsg drops the retained continuation for a delivered msg_ring
// completion once its receiving worker has fully processed it.
func (rt *Runtime) releaseMsg(userData uint64) {
	p, _ := decodeUserData(userData)
	rt.mu.Lock()
	delete(rt.pendingMsg, uintptr(p))
	rt.mu.Unlock()
}

var (
	defaultRuntimeOnce sync.Once
	defaultRuntime     *Runtime
)

// Default returns a lazily-constructed package-level Runtime built from
// DefaultConfig, for callers who don't need a private Runtime of their
// own.
func Default() *Runtime {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime = NewRuntime()
	})
	return defaultRuntime
}
