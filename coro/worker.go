package coro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	iouring "github.com/behrlich/go-coro"
)

// Worker is a per-thread event loop: it owns one kernel ring exclusively,
// holds a ready queue of continuations to resume, and submits pending
// submission entries / drains completions / resumes ready continuations
// each iteration.
//
// Nothing but the goroutine running Run ever touches a Worker's ring,
// and once its loop has started nothing else touches its ready queue -
// there is no internal locking on the hot path, each ring belongs to
// exactly one OS thread for its whole lifetime. The one exception is
// Runtime.Spawn's start-up path, which pushes onto the ready queue from
// another goroutine before any worker has entered its loop.
type Worker struct {
	id  uint8
	ring *iouring.Ring
	ready *spscRing[func()]

	toSubmit uint32
	toReap   int32
	stopped  bool

	// pending retains every in-flight *taskInfo (and any locally-boxed
	// continuation) from construction until its completion is read.
	// A submission entry's user-data is an opaque uint64 the garbage
	// collector does not trace; once a Task suspends, the only other
	// reference is a self-referential closure stored on the taskInfo
	// itself - an island with no GC root. Keyed by the bare pointer
	// (not the tagged user-data) so Link's in-place retagging doesn't
	// orphan an entry.
	pending map[uintptr]any

	cfg    Config
	logger *slog.Logger
	rt     *Runtime
}

func newWorker(id uint8, rt *Runtime, cfg Config) (*Worker, error) {
	ring, err := iouring.New(cfg.RingEntries)
	if err != nil {
		return nil, fmt.Errorf("coro: worker %d: %w", id, err)
	}
	return &Worker{
		id: id,
		ring: ring,
		// Cross-worker startup-phase hand-off (ready_count == 0, see
		// Runtime.Spawn) pushes onto a target worker's queue from a
		// goroutine other than its owner, before that owner has
		// started its loop. The cursor is kept in its atomic
		// (threadSafe) mode, non-blocking, to make that one-time
		// cross-goroutine write safe under the Go memory model without
		// giving up the steady-state single-owner (SPSC) usage
		// pattern the rest of the loop relies on.
		ready:   newSPSCRing[func()](cfg.SwapCapacity, true, false),
		pending: make(map[uintptr]any),
		cfg:     cfg,
		logger:  effectiveLogger(cfg.Logger),
		rt:      rt,
	}, nil
}

// ID returns the worker's registry-assigned identifier.
func (w *Worker) ID() uint8 { return w.id }

// Fd returns the worker's ring file descriptor, the target identifier
// used by other workers' cross-ring msg_ring posts.
func (w *Worker) Fd() int { return w.ring.Fd() }

// Close releases the worker's kernel ring. Call only after Run has
// returned.
func (w *Worker) Close() error { return w.ring.Close() }

// Run pins the calling goroutine to its OS thread (mirroring the
// source's one-io_context-per-std::thread model) and drives the event
// loop until a quiescent shutdown is observed or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.rt.workerEnter()
	defer w.rt.workerExit()

	for !w.stopped {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.work()
		w.submit()
		w.complete()
	}
	return nil
}

// work resumes up to N ready continuations, where N is a snapshot of the
// ready queue's size taken before the loop starts - continuations
// enqueued by these resumptions run on the next iteration, not this one.
func (w *Worker) work() {
	n := w.ready.Len()
	for i := uint32(0); i < n; i++ {
		cont, ok := w.ready.TryPop()
		if !ok {
			break
		}
		cont()
		if w.cfg.SubmissionThreshold > 0 && w.toSubmit >= w.cfg.SubmissionThreshold {
			if _, err := w.ring.Submit(); err != nil {
				panic(fmt.Errorf("coro: submit failed: %w", err))
			}
			w.toSubmit = 0
		}
	}
}

// submit flushes pending SQEs to the kernel, waiting for at least one
// completion only if the ready queue is empty (nothing useful to do
// until something completes).
func (w *Worker) submit() {
	if w.toSubmit == 0 {
		return
	}
	wait := uint32(0)
	if w.ready.IsEmpty() {
		wait = 1
	}
	if _, err := w.ring.SubmitAndWait(wait); err != nil {
		panic(fmt.Errorf("coro: submit failed: %w", err))
	}
	w.toSubmit = 0
}

// complete drains whatever completions are already visible; if none
// are and nothing is outstanding and no sibling worker is running, it
// declares quiescent shutdown. Otherwise, if something is still
// outstanding, it blocks for the next completion.
func (w *Worker) complete() {
	if n := w.drainAvailable(); n > 0 {
		return
	}
	if w.toReap == 0 && w.ready.IsEmpty() && w.rt.readyCount() == 1 {
		w.stopped = true
		return
	}
	if w.toReap > 0 || w.rt.readyCount() > 1 {
		w.blockAndDrain()
	}
}

// drainAvailable processes every CQE already visible without blocking,
// returning how many were handled.
func (w *Worker) drainAvailable() int {
	return w.ring.ForEachCQE(func(userData uint64, res int32, flags uint32) bool {
		w.handleCompletion(userData, res)
		return true
	})
}

// blockAndDrain waits for exactly one completion, handles it, then mops
// up anything else that became visible in the meantime.
func (w *Worker) blockAndDrain() {
	userData, res, _, err := w.ring.WaitCQE()
	if err != nil {
		panic(fmt.Errorf("coro: wait_cqe failed: %w", err))
	}
	w.handleCompletion(userData, res)
	w.ring.SeenCQE()
	w.drainAvailable()
}

// handleCompletion decodes one completion's user-data tag and acts on
// it: recovering a taskInfo, a boxed continuation, or discarding a
// reserved/linked-intermediate entry.
func (w *Worker) handleCompletion(userData uint64, res int32) {
	w.toReap--

	if isReservedUserData(userData) {
		if userData == reservedNone {
			w.logger.Error(ErrReservedTag.Error())
		}
		return
	}

	_, tag := decodeUserData(userData)
	w.logTagDispatch(tag, userData, res)

	switch tag {
	case tagTaskInfoPtr:
		info := taskInfoFromUserData(userData)
		info.result = res
		w.pushReady(info.resume)
		w.release(userData)
	case tagTaskInfoPtrLinkedChain:
		info := taskInfoFromUserData(userData)
		info.result = res
		w.release(userData)
	case tagRawCoroutineHandle:
		w.pushReady(continuationFromUserData(userData))
		w.release(userData)
	case tagMsgRingDelivery:
		w.pushReady(continuationFromUserData(userData))
		w.toReap++
		w.rt.releaseMsg(userData)
	default:
		w.logger.Error("completion carried an unrecognised user-data tag",
			slog.Int("tag", int(tag)))
	}
}

// retain keeps v reachable until release is called with the same
// pointer, bridging the gap between a submission entry's raw uint64
// user-data and the *taskInfo (or boxed continuation) it actually
// addresses.
func (w *Worker) retain(ptr unsafe.Pointer, v any) {
	w.pending[uintptr(ptr)] = v
}

// release drops the retained value for a completion's user-data once
// handleCompletion has fully processed it.
func (w *Worker) release(userData uint64) {
	p, _ := decodeUserData(userData)
	delete(w.pending, uintptr(p))
}

// pushReady places a continuation on the ready queue for the next
// work() call to resume. A nil continuation is a programming error and
// is rejected rather than pushed.
func (w *Worker) pushReady(cont func()) {
	if cont == nil {
		w.logger.Error(ErrNilContinuation.Error())
		return
	}
	if !w.ready.TryPush(cont) {
		panic(fmt.Errorf("coro: ready queue saturated: %w", ErrRingOvercommitted))
	}
}

// prepare runs prep, retrying exactly once (after a best-effort flush of
// already-visible completions and a non-blocking submit of the current
// backlog) if the ring reports itself full. A second failure means the
// program has over-committed past SwapCapacity and is fatal.
func (w *Worker) prepare(prep func() error) {
	if w.stopped {
		panic(fmt.Errorf("coro: %w", ErrSchedulerStopped))
	}
	if err := prep(); err == nil {
		return
	} else if !errors.Is(err, iouring.ErrSQFull) {
		panic(fmt.Errorf("coro: failed to prepare submission entry: %w", err))
	}

	w.drainAvailable()
	if w.toSubmit > 0 {
		if _, err := w.ring.Submit(); err == nil {
			w.toSubmit = 0
		}
	}

	if err := prep(); err != nil {
		panic(fmt.Errorf("coro: %w: %v", ErrRingOvercommitted, err))
	}
}
