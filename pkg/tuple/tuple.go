// Package tuple contains the canonical relationship tuple model and set
// operations over it.
package tuple

import (
	"fmt"
	"regexp"
	"strings"
)

// Wildcard is the subject id meaning "every user".
const Wildcard = "*"

var (
	typeRegex     = regexp.MustCompile(`^[^:#@\s]+(/[^:#@\s]+)?$`)
	idRegex       = regexp.MustCompile(`^[^:#@\s]+$`)
	relationRegex = regexp.MustCompile(`^[^:#@\s]+$`)
)

// ObjectReference identifies a node in the relationship graph. It is
// immutable once constructed.
type ObjectReference struct {
	Type string
	ID   string
}

// NewObject returns an ObjectReference for the given type and id.
func NewObject(objectType, objectID string) ObjectReference {
	return ObjectReference{Type: objectType, ID: objectID}
}

// String returns the canonical 'type:id' form of the object.
func (o ObjectReference) String() string {
	return o.Type + ":" + o.ID
}

// IsZero reports whether the reference carries no type and no id.
func (o ObjectReference) IsZero() bool {
	return o.Type == "" && o.ID == ""
}

// Validate returns a non-nil error if the reference is not a well formed
// graph node reference.
func (o ObjectReference) Validate() error {
	if !typeRegex.MatchString(o.Type) {
		return &InvalidObjectError{Object: o}
	}
	if !idRegex.MatchString(o.ID) {
		return &InvalidObjectError{Object: o}
	}
	return nil
}

// SubjectReference identifies the subject half of a relationship. A bare
// object reference denotes the object itself; a present Relation denotes the
// set of subjects satisfying that relation on the object, e.g. 'group:eng#member'.
type SubjectReference struct {
	Object   ObjectReference
	Relation string
}

// Direct returns a SubjectReference denoting the object itself.
func Direct(object ObjectReference) SubjectReference {
	return SubjectReference{Object: object}
}

// SubjectSet returns a relation-valued SubjectReference, the set of subjects
// satisfying relation on object.
func SubjectSet(object ObjectReference, relation string) SubjectReference {
	return SubjectReference{Object: object, Relation: relation}
}

// String returns 'type:id' or 'type:id#relation'.
func (s SubjectReference) String() string {
	if s.Relation == "" {
		return s.Object.String()
	}
	return s.Object.String() + "#" + s.Relation
}

func (s SubjectReference) Validate() error {
	if err := s.Object.Validate(); err != nil {
		return err
	}
	if s.Relation != "" && !relationRegex.MatchString(s.Relation) {
		return &InvalidRelationError{Relation: s.Relation}
	}
	return nil
}

// Relationship is the atomic fact 'object#relation@subject' in the
// relationship graph. A relationship either exists or does not; its identity
// is its three-field value.
type Relationship struct {
	Object   ObjectReference
	Relation string
	Subject  SubjectReference
}

// New returns the relationship 'object#relation@subject'.
func New(object ObjectReference, relation string, subject SubjectReference) Relationship {
	return Relationship{Object: object, Relation: relation, Subject: subject}
}

// String returns the canonical 'type:id#relation@type:id[#relation]' form.
// Two relationships are equal iff their canonical forms are equal.
func (r Relationship) String() string {
	return r.Object.String() + "#" + r.Relation + "@" + r.Subject.String()
}

// Validate returns a non-nil error if any of the three fields is malformed.
func (r Relationship) Validate() error {
	if err := r.Object.Validate(); err != nil {
		return err
	}
	if !relationRegex.MatchString(r.Relation) {
		return &InvalidRelationError{Relation: r.Relation}
	}
	return r.Subject.Validate()
}

// Parse is the inverse of [Relationship.String].
func Parse(s string) (Relationship, error) {
	objectPart, rest, ok := strings.Cut(s, "#")
	if !ok {
		return Relationship{}, fmt.Errorf("parse relationship %q: missing '#'", s)
	}
	relation, subjectPart, ok := strings.Cut(rest, "@")
	if !ok {
		return Relationship{}, fmt.Errorf("parse relationship %q: missing '@'", s)
	}

	objectType, objectID := SplitObject(objectPart)
	if objectType == "" || objectID == "" {
		return Relationship{}, fmt.Errorf("parse relationship %q: malformed object %q", s, objectPart)
	}

	subjectObject, subjectRelation, _ := strings.Cut(subjectPart, "#")
	subjectType, subjectID := SplitObject(subjectObject)
	if subjectType == "" || subjectID == "" {
		return Relationship{}, fmt.Errorf("parse relationship %q: malformed subject %q", s, subjectPart)
	}

	rel := Relationship{
		Object:   ObjectReference{Type: objectType, ID: objectID},
		Relation: relation,
		Subject: SubjectReference{
			Object:   ObjectReference{Type: subjectType, ID: subjectID},
			Relation: subjectRelation,
		},
	}
	if err := rel.Validate(); err != nil {
		return Relationship{}, fmt.Errorf("parse relationship %q: %w", s, err)
	}
	return rel, nil
}

// SplitObject splits an object into an objectType and an objectID. If no type
// is present, it returns the empty string and the original object. The split
// is on the last ':' so that namespaced types such as 'rbac/v1role' survive.
func SplitObject(object string) (string, string) {
	switch i := strings.LastIndexByte(object, ':'); i {
	case -1:
		return "", object
	case len(object) - 1:
		return object[0:i], ""
	default:
		return object[0:i], object[i+1:]
	}
}

// BuildObject joins an objectType and objectID into the 'objectType:objectID'
// form.
func BuildObject(objectType, objectID string) string {
	return fmt.Sprintf("%s:%s", objectType, objectID)
}
