package coro

import "unsafe"

// userDataTag is the low-3-bit selector packed into a completion's
// 64-bit user-data alongside an aligned pointer.
type userDataTag uint8

const (
	// tagTaskInfoPtr marks user-data whose upper bits are a *taskInfo:
	// write cqe.res into its result and push its continuation.
	tagTaskInfoPtr userDataTag = iota
	// tagRawCoroutineHandle marks user-data whose upper bits are a
	// continuation directly: push it, ignore the result.
	tagRawCoroutineHandle
	// tagTaskInfoPtrLinkedChain marks an intermediate entry of a linked
	// chain: write the result only, do not push anything.
	tagTaskInfoPtrLinkedChain
	// tagMsgRingDelivery marks a cross-ring message: the upper bits are
	// a continuation delivered from another worker.
	tagMsgRingDelivery
)

func (t userDataTag) String() string {
	switch t {
	case tagTaskInfoPtr:
		return "task_info_ptr"
	case tagRawCoroutineHandle:
		return "coroutine_handle"
	case tagTaskInfoPtrLinkedChain:
		return "task_info_ptr_link_sqe"
	case tagMsgRingDelivery:
		return "msg_ring"
	default:
		return "none"
	}
}

const tagBits = 3
const tagMask = uint64(1<<tagBits) - 1

// Reserved small-integer user-data values, detected by magnitude before
// any tag decode is attempted - real pointers are never this small.
const (
	reservedNone uint64 = 0 // uninitialised completion
	reservedNop  uint64 = 1 // detached / deliberately discarded completion
	reservedMax  uint64 = reservedNop
)

// taskInfo is the per-in-flight-operation record whose address is
// encoded into a submission entry's user-data. At most one completion
// ever targets a given taskInfo; it is kept reachable by the owning
// Worker's pending map until that completion is observed.
type taskInfo struct {
	resume func() // continuation to run on the worker that owns this op
	result int32  // written from cqe.res before resume is scheduled
}

// alignmentOf(*taskInfo) must be at least 1<<tagBits so the low bits are
// free for a tag. Go guarantees 8-byte alignment for any heap pointer on
// every platform this module targets (64-bit linux), which already
// meets 1<<tagBits (8). encodeUserData asserts this at runtime rather
// than trusting it silently.
func (ti *taskInfo) asUserData(tag userDataTag) uint64 {
	return encodeUserData(unsafe.Pointer(ti), tag)
}

// encodeUserData packs an aligned pointer and a tag selector into a
// single 64-bit completion identifier. Panics if the pointer is not
// aligned to at least 1<<tagBits.
func encodeUserData(p unsafe.Pointer, tag userDataTag) uint64 {
	addr := uint64(uintptr(p))
	if addr&tagMask != 0 {
		panic("coro: pointer not aligned for user-data tag encoding")
	}
	if uint64(tag) > tagMask {
		panic("coro: user-data tag selector out of range")
	}
	return addr | uint64(tag)
}

// decodeUserData splits a non-reserved user-data value back into its
// pointer and tag. Callers must have already ruled out the reserved
// small-integer range via isReservedUserData.
func decodeUserData(v uint64) (p unsafe.Pointer, tag userDataTag) {
	tag = userDataTag(v & tagMask)
	p = unsafe.Pointer(uintptr(v &^ tagMask))
	return p, tag
}

func isReservedUserData(v uint64) bool {
	return v <= reservedMax
}

func taskInfoFromUserData(v uint64) *taskInfo {
	p, tag := decodeUserData(v)
	if tag != tagTaskInfoPtr && tag != tagTaskInfoPtrLinkedChain {
		panic("coro: taskInfoFromUserData called on a non-task-info tag")
	}
	return (*taskInfo)(p)
}

func continuationFromUserData(v uint64) func() {
	p, tag := decodeUserData(v)
	if tag != tagRawCoroutineHandle && tag != tagMsgRingDelivery {
		panic("coro: continuationFromUserData called on a non-handle tag")
	}
	return *(*func())(p)
}

// boxContinuation heap-allocates a single-slot box holding fn and returns
// its address, suitable for tagging as tagRawCoroutineHandle or
// tagMsgRingDelivery. The user-data value is an untraced uint64 and does
// not keep the box alive; the caller must retain it until the
// corresponding CQE is decoded (Runtime.Spawn does so via retainMsg).
func boxContinuation(fn func()) unsafe.Pointer {
	box := new(func())
	*box = fn
	return unsafe.Pointer(box)
}
