package coro

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeUserDataRoundTrips(t *testing.T) {
	info := &taskInfo{}
	ud := info.asUserData(tagTaskInfoPtr)
	assert.False(t, isReservedUserData(ud))

	got := taskInfoFromUserData(ud)
	assert.Same(t, info, got)

	p, tag := decodeUserData(ud)
	assert.Equal(t, tagTaskInfoPtr, tag)
	assert.Equal(t, unsafe.Pointer(info), p)
}

func TestEncodeUserDataRejectsUnalignedPointer(t *testing.T) {
	var b [16]byte
	unaligned := unsafe.Pointer(uintptr(unsafe.Pointer(&b[0])) | 1)
	assert.Panics(t, func() { encodeUserData(unaligned, tagTaskInfoPtr) })
}

func TestReservedUserDataDetectedByMagnitude(t *testing.T) {
	assert.True(t, isReservedUserData(reservedNone))
	assert.True(t, isReservedUserData(reservedNop))

	info := &taskInfo{}
	ud := info.asUserData(tagTaskInfoPtr)
	assert.False(t, isReservedUserData(ud))
}

func TestBoxContinuationRoundTrips(t *testing.T) {
	called := false
	boxed := boxContinuation(func() { called = true })
	ud := encodeUserData(boxed, tagRawCoroutineHandle)

	cont := continuationFromUserData(ud)
	cont()
	assert.True(t, called)
}

func TestTaskInfoFromUserDataRejectsWrongTag(t *testing.T) {
	boxed := boxContinuation(func() {})
	ud := encodeUserData(boxed, tagRawCoroutineHandle)
	assert.Panics(t, func() { taskInfoFromUserData(ud) })
}

func TestLinkedChainTagRoundTrips(t *testing.T) {
	info := &taskInfo{}
	ud := info.asUserData(tagTaskInfoPtrLinkedChain)
	got := taskInfoFromUserData(ud)
	require.Same(t, info, got)
	_, tag := decodeUserData(ud)
	assert.Equal(t, tagTaskInfoPtrLinkedChain, tag)
}

func TestTagStringCoversAllValues(t *testing.T) {
	cases := map[userDataTag]string{
		tagTaskInfoPtr:            "task_info_ptr",
		tagRawCoroutineHandle:     "coroutine_handle",
		tagTaskInfoPtrLinkedChain: "task_info_ptr_link_sqe",
		tagMsgRingDelivery:        "msg_ring",
	}
	for tag, want := range cases {
		assert.Equal(t, want, tag.String())
	}
}
