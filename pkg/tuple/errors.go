package tuple

import "fmt"

// InvalidObjectError indicates an object reference whose type or id cannot
// appear in a relationship tuple.
type InvalidObjectError struct {
	Object ObjectReference
}

func (e *InvalidObjectError) Error() string {
	return fmt.Sprintf("invalid object reference '%s:%s'", e.Object.Type, e.Object.ID)
}

// InvalidRelationError indicates a malformed relation name.
type InvalidRelationError struct {
	Relation string
}

func (e *InvalidRelationError) Error() string {
	return fmt.Sprintf("invalid relation %q", e.Relation)
}
