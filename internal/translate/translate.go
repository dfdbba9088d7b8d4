// Package translate derives canonical relationship sets from RBAC domain
// state. Translation is a pure, deterministic function of the supplied state:
// it performs no I/O and never consults prior graph-store state, so
// re-translating the same input always yields an identical set.
package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// Graph node types emitted by translation. Resource scope types such as
// 'cost_management/aws_account' are derived from permissions, see
// resourceScope.
const (
	TypeUser        = "user"
	TypeGroup       = "group"
	TypeRole        = "role"
	TypeV1Role      = "rbac/v1role"
	TypeRoleBinding = "role_binding"
	TypeWorkspace   = "workspace"
	TypeTenant      = "tenant"
)

// Relations emitted by translation.
const (
	RelationMember    = "member"
	RelationRole      = "role"
	RelationBinding   = "binding"
	RelationGranted   = "granted"
	RelationSubject   = "subject"
	RelationUserGrant = "user_grant"
	RelationParent    = "parent"
)

// IncompleteStateError indicates that the supplied domain state references an
// entity that could not be resolved, so no canonical set can be derived from
// it. The caller must re-read consistent RBAC state and retry; translation
// never silently drops a reference.
type IncompleteStateError struct {
	Ref     domain.ObjectRef
	Missing string
}

func (e *IncompleteStateError) Error() string {
	return fmt.Sprintf("incomplete domain state for %s: missing %s", e.Ref, e.Missing)
}

// IsIncompleteState reports whether err is an [IncompleteStateError].
func IsIncompleteState(err error) bool {
	var target *IncompleteStateError
	return errors.As(err, &target)
}

// Canonical resolves ref through the reader and derives its canonical
// relationship set. A deleted domain object (reader returns
// [domain.ErrNotFound] for ref itself) translates to the empty set with
// deleted=true: everything previously derived for it must be torn down.
func Canonical(ctx context.Context, reader domain.StateReader, ref domain.ObjectRef) (set *tuple.Set, deleted bool, err error) {
	switch ref.Type {
	case domain.TypeGroup:
		state, err := reader.Group(ctx, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return tuple.NewSet(), true, nil
		}
		if err != nil {
			return nil, false, err
		}
		set, err := Group(state)
		return set, false, err
	case domain.TypeRole:
		state, err := reader.Role(ctx, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return tuple.NewSet(), true, nil
		}
		if err != nil {
			return nil, false, err
		}
		set, err := Role(state)
		return set, false, err
	case domain.TypeWorkspace:
		state, err := reader.Workspace(ctx, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return tuple.NewSet(), true, nil
		}
		if err != nil {
			return nil, false, err
		}
		set, err := Workspace(state)
		return set, false, err
	default:
		return nil, false, fmt.Errorf("unknown domain object type %q", ref.Type)
	}
}
