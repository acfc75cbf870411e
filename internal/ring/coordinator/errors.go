package coordinator

import (
	"github.com/containerd/errdefs"
)

// errDuplicateID and errAuthFailed are the sentinels wrapped into a
// join failure so the caller can map it to the DUPLICATE_ID /
// AUTH_FAIL receipt.
var (
	errDuplicateID         = errdefs.ErrAlreadyExists
	errAuthFailed          = errdefs.ErrPermissionDenied
	errVersionIncompatible = errdefs.ErrFailedPrecondition
)

// IsDuplicateID reports whether err represents a rejected join due to
// an id already present in the topology.
func IsDuplicateID(err error) bool { return errdefs.IsAlreadyExists(err) }

// IsAuthFailed reports whether err represents a rejected join due to
// failed authentication.
func IsAuthFailed(err error) bool { return errdefs.IsPermissionDenied(err) }

// IsVersionIncompatible reports whether err represents a rejected join
// due to an incompatible product version.
func IsVersionIncompatible(err error) bool { return errdefs.IsFailedPrecondition(err) }
