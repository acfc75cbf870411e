package iogateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/containerd/errdefs"
)

// ErrTimeoutOnForceClose is the error a Write reports when its
// TimeoutObject guard fired and force-closed the socket mid-write.
// It wraps errdefs.ErrDeadlineExceeded, so IsTimeout reports true for it.
var ErrTimeoutOnForceClose = fmt.Errorf("iogateway: write timeout, socket force-closed: %w", errdefs.ErrDeadlineExceeded)

// The socket gateway classifies every I/O failure into one of the
// taxonomy members below before returning it to a caller.
// Classification wraps github.com/containerd/errdefs sentinels so
// callers anywhere in the module can use the same errdefs.Is* helpers
// the rest of the codebase uses, rather than a bespoke error hierarchy.

// IsUnreachable reports whether err came from a connect that was
// refused or timed out.
func IsUnreachable(err error) bool { return errdefs.IsUnavailable(err) }

// IsTimeout reports whether err came from a read or write that
// exceeded its deadline.
func IsTimeout(err error) bool { return errdefs.IsDeadlineExceeded(err) }

// IsClosed reports whether err came from a peer EOF observed mid-operation.
func IsClosed(err error) bool { return errdefs.IsConflict(err) }

// IsDecode reports whether err came from a codec failure while parsing
// a received frame.
func IsDecode(err error) bool { return errdefs.IsInvalidArgument(err) }

// Classify maps a raw net/io error observed by the gateway into the
// taxonomy above, wrapping it in the matching errdefs sentinel. Errors
// already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsUnavailable(err) || errdefs.IsDeadlineExceeded(err) ||
		errdefs.IsConflict(err) || errdefs.IsInvalidArgument(err) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", errdefs.ErrConflict, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", errdefs.ErrUnavailable, err)
	}
	return err
}

// ClassifyDecode wraps a codec decode failure as errdefs.ErrInvalidArgument.
func ClassifyDecode(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
}
