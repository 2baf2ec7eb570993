package klock

// fatalf reports violation of a klock invariant. These correspond to the
// assert() failures in the original kernel's cnd.c/waitqueue.c: a mutex
// unlocked twice, or internal bookkeeping left in an inconsistent state.
// They are bugs in the caller, not recoverable runtime conditions, so klock
// panics rather than returning an error.
func fatalf(msg string) {
	panic(msg)
}
