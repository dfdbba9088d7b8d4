package syncer

import (
	"errors"
	"fmt"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// Kind classifies a sync failure.
type Kind string

const (
	// KindUnavailable means the store was unreachable after the retry
	// budget. The domain object stays failed until the next reconciliation
	// pass retries it.
	KindUnavailable Kind = "unavailable"

	// KindRejected means the store permanently refused a write. Rejections
	// are surfaced to operators and never auto-retried, since retrying a
	// structurally invalid write cannot succeed.
	KindRejected Kind = "rejected"
)

// SyncError is a failed delta application.
type SyncError struct {
	Kind Kind
	Ref  domain.ObjectRef

	// Relationship is the offending tuple for rejections, when the store
	// identified one.
	Relationship *tuple.Relationship

	Err error
}

func (e *SyncError) Error() string {
	if e.Relationship != nil {
		return fmt.Sprintf("sync of %s %s (%s): %v", e.Ref, e.Kind, e.Relationship, e.Err)
	}
	return fmt.Sprintf("sync of %s %s: %v", e.Ref, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a SyncError with KindUnavailable.
func IsUnavailable(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Kind == KindUnavailable
}

// IsRejected reports whether err is a SyncError with KindRejected.
func IsRejected(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Kind == KindRejected
}
