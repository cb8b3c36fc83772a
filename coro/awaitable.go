package coro

import (
	"syscall"
	"time"
	"unsafe"

	iouring "github.com/behrlich/go-coro"
	"github.com/behrlich/go-coro/internal/sys"
)

// IOAwaitable packages one kernel operation as a cooperative suspension
// point. Construction reserves a submission entry on the owning Worker's
// ring immediately and tags its user-data with the address of a fresh
// taskInfo; awaiting it (via Task) only records the continuation to run
// on completion - submission to the kernel itself is batched by the
// Worker's loop, not performed here.
//
// There is no thread-local "current worker" here; it is threaded
// explicitly instead, so every constructor below takes w *Worker as its
// first argument.
type IOAwaitable struct {
	worker *Worker
	info   *taskInfo
	sqe    *sys.SQE
}

// newAwaitable reserves an SQE via prep (retrying once through the
// owning worker's flush path on SQFull) and returns an IOAwaitable whose
// user-data already points at a fresh taskInfo.
func newAwaitable(w *Worker, prep func(userData uint64) error) *IOAwaitable {
	info := &taskInfo{}
	ud := info.asUserData(tagTaskInfoPtr)
	w.retain(unsafe.Pointer(info), info)
	w.prepare(func() error { return prep(ud) })
	a := &IOAwaitable{worker: w, info: info, sqe: w.ring.LastSQE()}
	w.toSubmit++
	w.toReap++
	return a
}

// SetAsync forces the kernel to dispatch this entry via its async path
// rather than attempting an inline completion. Returns the receiver for
// chaining.
func (a *IOAwaitable) SetAsync() *IOAwaitable {
	a.sqe.Flags |= sys.IOSQE_ASYNC
	return a
}

// Detach rewrites the entry's user-data to the reserved no-op tag: the
// caller proceeds immediately, and the eventual completion is discarded
// by the Worker's reserved-tag handler rather than resuming anyone.
func (a *IOAwaitable) Detach() {
	a.worker.release(a.sqe.UserData)
	a.sqe.UserData = reservedNop
}

// Task returns the lazy Task that, once run, waits for this operation's
// completion and yields the kernel's raw result (a non-negative byte
// count or a negative errno, per the kernel ABI - never translated into
// a Go error here; see Checked for that).
func (a *IOAwaitable) Task() *Task[int32] {
	return NewTask(func(resume Continuation[int32]) {
		a.info.resume = func() {
			resume(a.info.result, nil)
		}
	})
}

// Checked is a convenience wrapping Task: a negative kernel result is
// translated into a Go error via iouring.ResultError instead of being
// handed back as a raw negative int. This is an ergonomic addition over
// the core contract, not a replacement for it - Task still returns the
// untranslated value.
func (a *IOAwaitable) Checked() *Task[int] {
	return Then(a.Task(), func(v int32) *Task[int] {
		if err := iouring.ResultError(v); err != nil {
			return Failed[int](err)
		}
		return Ready(int(v))
	})
}

// Nop submits a no-op operation, useful for saturating the ready queue
// in tests and for waking an SQPOLL thread.
func Nop(w *Worker) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepNop(ud)
	})
}

// Read submits a read of len(buf) bytes from fd at offset.
func Read(w *Worker, fd int, buf []byte, offset uint64) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepRead(fd, buf, offset, ud)
	})
}

// Write submits a write of buf to fd at offset.
func Write(w *Worker, fd int, buf []byte, offset uint64) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepWrite(fd, buf, offset, ud)
	})
}

// Readv submits a vectored read.
func Readv(w *Worker, fd int, iovecs []syscall.Iovec, offset uint64) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepReadv(fd, iovecs, offset, ud)
	})
}

// Writev submits a vectored write.
func Writev(w *Worker, fd int, iovecs []syscall.Iovec, offset uint64) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepWritev(fd, iovecs, offset, ud)
	})
}

// Recv submits a socket receive.
func Recv(w *Worker, fd int, buf []byte, flags int) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepRecv(fd, buf, flags, ud)
	})
}

// Send submits a socket send.
func Send(w *Worker, fd int, buf []byte, flags int) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepSend(fd, buf, flags, ud)
	})
}

// Accept submits a connection accept.
func Accept(w *Worker, fd int, addr unsafe.Pointer, addrLen *uint32, flags uint32) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepAccept(fd, addr, addrLen, flags, ud)
	})
}

// Connect submits a socket connect.
func Connect(w *Worker, fd int, addr unsafe.Pointer, addrLen uint32) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepConnect(fd, addr, addrLen, ud)
	})
}

// Close submits a file descriptor close.
func Close(w *Worker, fd int) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepClose(fd, ud)
	})
}

// Shutdown submits a socket shutdown (how is SHUT_RD/SHUT_WR/SHUT_RDWR).
func Shutdown(w *Worker, fd int, how int) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepShutdown(fd, how, ud)
	})
}

// Fsync submits a file sync.
func Fsync(w *Worker, fd int, flags uint32) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepFsync(fd, flags, ud)
	})
}

// Openat submits a file open relative to dirfd.
func Openat(w *Worker, dirfd int, path *byte, flags int, mode uint32) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepOpenat(dirfd, path, flags, mode, ud)
	})
}

// Statx submits a statx.
func Statx(w *Worker, dirfd int, path *byte, flags, mask int, statxbuf unsafe.Pointer) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepStatx(dirfd, path, flags, mask, statxbuf, ud)
	})
}

// Splice submits a splice between two file descriptors.
func Splice(w *Worker, fdIn int, offIn int64, fdOut int, offOut int64, nbytes uint32, flags uint32) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepSplice(fdIn, offIn, fdOut, offOut, nbytes, flags, ud)
	})
}

// PollAdd submits a poll_add against fd's pollMask.
func PollAdd(w *Worker, fd int, pollMask uint32) *IOAwaitable {
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepPollAdd(fd, pollMask, ud)
	})
}

// TimeoutResult is the kernel's well-known negative errno for timer
// expiry, surfaced non-fatally rather than treated as a generic I/O
// error. Callers distinguish it from real failures by comparing the
// result against it.
const TimeoutResult = -int32(syscall.ETIME)

// Timeout submits a relative timeout of d, biased by the Worker's
// configured TimeoutBiasNanos to compensate for wake-up latency.
func Timeout(w *Worker, d time.Duration) *IOAwaitable {
	ts := durationToTimespec(d, w.cfg.TimeoutBiasNanos)
	return newAwaitable(w, func(ud uint64) error {
		return w.ring.PrepTimeout(&ts, 0, 0, ud)
	})
}

// durationToTimespec converts d into a kernel timespec, adding bias
// nanoseconds (negative by convention, shortening the visible timeout)
// and clamping the result at zero.
func durationToTimespec(d time.Duration, biasNanos int64) sys.Timespec {
	total := d.Nanoseconds() + biasNanos
	if total < 0 {
		total = 0
	}
	return sys.Timespec{
		Sec:  total / int64(time.Second),
		Nsec: total % int64(time.Second),
	}
}
