package syscallapi

import (
	"errors"

	"github.com/dplanitzer/apollo-sched/kdispatch"
	"github.com/dplanitzer/apollo-sched/sched"
)

// translate maps a package sched/kdispatch error into the verbatim errno
// convention of spec.md 6. Unrecognized errors map to EINVAL, matching
// spec.md 7's "everything else is surfaced to the caller as one of the
// codes above."
func translate(err error) Errno {
	switch {
	case err == nil:
		return EOK
	case errors.Is(err, sched.ErrInvalidArgument), errors.Is(err, kdispatch.ErrInvalidArgument):
		return EINVAL
	case errors.Is(err, sched.ErrBusy), errors.Is(err, kdispatch.ErrBusy):
		return EBUSY
	case errors.Is(err, sched.ErrNotFound), errors.Is(err, kdispatch.ErrNotFound):
		return ESRCH
	case errors.Is(err, sched.ErrPermission):
		return EPERM
	case errors.Is(err, kdispatch.ErrTerminated):
		return ETERMINATED
	case errors.Is(err, kdispatch.ErrCapacity):
		return ENOMEM
	case errors.Is(err, kdispatch.ErrStateMismatch):
		return EBUSY
	default:
		return EINVAL
	}
}
