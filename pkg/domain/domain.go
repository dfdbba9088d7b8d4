// Package domain defines the RBAC source-of-truth state the engine derives
// relationships from, and the read interface over it. The relational
// persistence of these entities lives outside this module; the engine only
// ever observes it through [StateReader].
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ObjectType enumerates the kinds of RBAC entities whose canonical
// relationship sets are tracked.
type ObjectType string

const (
	TypeGroup     ObjectType = "group"
	TypeRole      ObjectType = "role"
	TypeWorkspace ObjectType = "workspace"
)

// ObjectRef identifies one tracked RBAC entity.
type ObjectRef struct {
	Type ObjectType
	ID   string
}

func GroupRef(id string) ObjectRef     { return ObjectRef{Type: TypeGroup, ID: id} }
func RoleRef(id string) ObjectRef      { return ObjectRef{Type: TypeRole, ID: id} }
func WorkspaceRef(id string) ObjectRef { return ObjectRef{Type: TypeWorkspace, ID: id} }

func (r ObjectRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// ParseRef parses the 'type:id' form produced by [ObjectRef.String].
func ParseRef(s string) (ObjectRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ObjectRef{}, fmt.Errorf("invalid object ref %q, expected 'type:id'", s)
	}
	switch ObjectType(typ) {
	case TypeGroup, TypeRole, TypeWorkspace:
		return ObjectRef{Type: ObjectType(typ), ID: id}, nil
	default:
		return ObjectRef{}, fmt.Errorf("invalid object ref %q, unknown type %q", s, typ)
	}
}

// Permission is the v1 'application:resource:verb' permission string, split.
// The verb or resource may be the wildcard '*'.
type Permission struct {
	Application string
	Resource    string
	Verb        string
}

// ParsePermission parses 'application:resource:verb'.
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Permission{}, fmt.Errorf("malformed permission %q, want 'application:resource:verb'", s)
	}
	return Permission{Application: parts[0], Resource: parts[1], Verb: parts[2]}, nil
}

func (p Permission) String() string {
	return p.Application + ":" + p.Resource + ":" + p.Verb
}

// ResourceDefinition narrows a permission grant to resources matching an
// attribute filter, e.g. key 'aws.account', operation 'equal', value
// '123456'.
type ResourceDefinition struct {
	Key       string
	Operation string // "equal" or "in"
	Values    []string
}

// Access is one permission granted by a role, optionally narrowed by
// resource definitions.
type Access struct {
	Permission          Permission
	ResourceDefinitions []ResourceDefinition
}

// GroupState is the full current state needed to translate one group.
type GroupState struct {
	ID         string
	Principals []string
	Subgroups  []string
}

// RoleState is the full current state needed to translate one role: its
// accesses, the groups it is bound to, and the tenant default workspace that
// scopes unfiltered grants.
type RoleState struct {
	ID                 string
	Name               string
	Accesses           []Access
	Groups             []string
	DefaultWorkspaceID string
}

// WorkspaceType enumerates the workspace kinds in the tenant hierarchy.
type WorkspaceType string

const (
	WorkspaceRoot     WorkspaceType = "root"
	WorkspaceDefault  WorkspaceType = "default"
	WorkspaceStandard WorkspaceType = "standard"
)

// WorkspaceState is the full current state needed to translate one
// workspace's position in the scope hierarchy.
type WorkspaceState struct {
	ID       string
	TenantID string
	ParentID string
	Type     WorkspaceType
}

// ErrNotFound is returned by a StateReader when the requested domain object
// does not exist. The engine translates it as the empty canonical set, i.e.
// a full teardown of previously derived tuples.
var ErrNotFound = errors.New("domain object not found")

// StateReader supplies the current RBAC state needed for translation. A
// reader must return a consistent snapshot per call; it is never asked to
// resolve transitive group membership.
type StateReader interface {
	Group(ctx context.Context, id string) (*GroupState, error)
	Role(ctx context.Context, id string) (*RoleState, error)
	Workspace(ctx context.Context, id string) (*WorkspaceState, error)

	// ListRefs enumerates every live domain object, for reconciliation sweeps.
	ListRefs(ctx context.Context) ([]ObjectRef, error)
}
