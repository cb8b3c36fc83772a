package coro

import "github.com/behrlich/go-coro/internal/sys"

// LinkChain is the composite awaitable produced by Link: the kernel
// submits its entries as an ordered, short-circuiting group, but only
// the final entry's completion resumes anyone.
type LinkChain struct {
	final *IOAwaitable
}

// Link fuses the given awaitables into a single kernel-linked chain,
// marking every entry but the last with IOSQE_IO_LINK and retagging
// their user-data as linked-intermediate so their completions are
// bookkept without resuming anyone. The returned chain's Task yields
// the final entry's result. Panics if called with no awaitables.
//
// Each IOAwaitable already holds a direct pointer to its own reserved
// SQE (captured at construction via Ring.LastSQE), so entries can be
// linked regardless of how many other awaitables were constructed in
// between - unlike the underlying Ring's SetSQEFlags/SetSQELink, which
// only ever act on "whatever was prepared most recently".
func Link(chain ...*IOAwaitable) *LinkChain {
	if len(chain) == 0 {
		panic("coro: Link requires at least one awaitable")
	}
	for _, a := range chain[:len(chain)-1] {
		a.sqe.Flags |= sys.IOSQE_IO_LINK
		a.sqe.UserData = a.info.asUserData(tagTaskInfoPtrLinkedChain)
	}
	return &LinkChain{final: chain[len(chain)-1]}
}

// Task returns the lazy Task for the chain, driven entirely by the final
// entry's completion.
func (c *LinkChain) Task() *Task[int32] {
	return c.final.Task()
}

// Checked is the error-translating convenience form of Task, see
// IOAwaitable.Checked.
func (c *LinkChain) Checked() *Task[int] {
	return c.final.Checked()
}
