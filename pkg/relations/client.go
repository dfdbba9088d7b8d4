// Package relations provides the client surface to the remote relationship
// graph store. The engine is the store's sole writer of derived tuples; every
// component that touches the store goes through [Client].
package relations

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relationsync/relationsync/pkg/tuple"
)

// Filter constrains a Read. Zero-valued fields are not applied. ObjectType is
// required; ObjectID, Relation, and the subject fields are optional.
type Filter struct {
	ObjectType      string
	ObjectID        string
	Relation        string
	SubjectType     string
	SubjectID       string
	SubjectRelation string
}

// Client is the tuple read/write surface of the relationship store.
type Client interface {
	// Write submits one batch of relationships. With touch=true the write is
	// idempotent: re-adding an existing relationship is a no-op. With
	// touch=false an existing relationship fails the whole batch with a
	// [ConflictError].
	Write(ctx context.Context, touch bool, rels []tuple.Relationship) error

	// Delete removes the given relationships with delete-if-exists semantics:
	// removing an absent relationship is a no-op.
	Delete(ctx context.Context, rels []tuple.Relationship) error

	// Read returns the relationships matching the filter.
	Read(ctx context.Context, filter Filter) ([]tuple.Relationship, error)
}

// ConflictError indicates a touch=false write of an already existing
// relationship. The store rejects the whole batch; nothing in it is applied.
type ConflictError struct {
	Relationship tuple.Relationship
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("relationship already exists: %s", e.Relationship)
}

// RejectedError indicates a write the store permanently refused, e.g. a
// schema-incompatible tuple. Retrying a rejected write cannot succeed.
type RejectedError struct {
	// Relationship is the offending tuple when the store identified one.
	Relationship *tuple.Relationship
	Err          error
}

func (e *RejectedError) Error() string {
	if e.Relationship != nil {
		return fmt.Sprintf("relationship rejected by store (%s): %v", e.Relationship, e.Err)
	}
	return fmt.Sprintf("write rejected by store: %v", e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Transient reports whether err is worth retrying: the store was unreachable
// or overloaded rather than refusing the write outright.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return false
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
	}
	return false
}
