package translate

import (
	"strings"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// bindTarget is one grantable role node together with the scope it attaches
// at: the tenant default workspace for unfiltered grants, the filtered
// resource node for scoped grants.
type bindTarget struct {
	node  tuple.ObjectReference
	scope tuple.ObjectReference
}

// Role derives the canonical set for one role.
//
// Each unfiltered access grants its permission relation on the role's own
// node to the wildcard user and binds at the tenant default workspace. Each
// filtered access mints a deterministic scoped sub-role carrying the same
// wildcard grant, links it under the v1 role for discovery, and binds at the
// filtered resource node. Every bound group then gets one role binding per
// target: granted role node, subject group member set, v1 role linkage, and
// the scope attachment.
func Role(state *domain.RoleState) (*tuple.Set, error) {
	ref := domain.RoleRef(state.ID)
	if state.ID == "" {
		return nil, &IncompleteStateError{Ref: ref, Missing: "role id"}
	}

	v1Role := tuple.NewObject(TypeV1Role, state.ID)
	wildcard := tuple.Direct(tuple.NewObject(TypeUser, tuple.Wildcard))
	set := tuple.NewSet()

	var targets []bindTarget
	seenTargets := make(map[string]struct{})
	addTarget := func(t bindTarget) {
		key := t.node.String() + "|" + t.scope.String()
		if _, ok := seenTargets[key]; ok {
			return
		}
		seenTargets[key] = struct{}{}
		targets = append(targets, t)
	}

	for _, access := range state.Accesses {
		relation := PermissionRelation(access.Permission)
		if err := (tuple.Relationship{Object: v1Role, Relation: relation, Subject: wildcard}).Validate(); err != nil {
			return nil, &IncompleteStateError{Ref: ref, Missing: "well-formed permission " + access.Permission.String()}
		}

		if len(access.ResourceDefinitions) == 0 {
			if state.DefaultWorkspaceID == "" {
				return nil, &IncompleteStateError{Ref: ref, Missing: "default workspace"}
			}
			node := tuple.NewObject(TypeRole, state.ID)
			set.Add(tuple.New(node, relation, wildcard))
			addTarget(bindTarget{node: node, scope: tuple.NewObject(TypeWorkspace, state.DefaultWorkspaceID)})
			continue
		}

		subRole := tuple.NewObject(TypeRole, SubRoleID(state.ID, access.Permission, access.ResourceDefinitions))
		set.Add(tuple.New(subRole, relation, wildcard))
		set.Add(tuple.New(v1Role, RelationRole, tuple.Direct(subRole)))

		for _, def := range access.ResourceDefinitions {
			if def.Key == "" || len(def.Values) == 0 {
				return nil, &IncompleteStateError{Ref: ref, Missing: "resource definition for " + access.Permission.String()}
			}
			for _, value := range def.Values {
				if value == "" {
					return nil, &IncompleteStateError{Ref: ref, Missing: "resource definition value for " + access.Permission.String()}
				}
				addTarget(bindTarget{node: subRole, scope: resourceScope(access.Permission, def, value)})
			}
		}
	}

	for _, groupID := range state.Groups {
		if groupID == "" {
			return nil, &IncompleteStateError{Ref: ref, Missing: "bound group id"}
		}
		for _, target := range targets {
			binding := tuple.NewObject(TypeRoleBinding, BindingID(state.ID, groupID, target.node, target.scope))
			set.Add(tuple.New(binding, RelationGranted, tuple.Direct(target.node)))
			set.Add(tuple.New(binding, RelationSubject, tuple.SubjectSet(tuple.NewObject(TypeGroup, groupID), RelationMember)))
			set.Add(tuple.New(v1Role, RelationBinding, tuple.Direct(binding)))
			set.Add(tuple.New(target.scope, RelationUserGrant, tuple.Direct(binding)))
		}
	}

	return set, nil
}

// PermissionRelation converts a v1 permission to its relation name:
// 'cost-management:*:read' becomes 'cost_management_all_read'.
func PermissionRelation(p domain.Permission) string {
	return permissionSegment(p.Application) + "_" + permissionSegment(p.Resource) + "_" + permissionSegment(p.Verb)
}

func permissionSegment(s string) string {
	if s == "*" {
		return "all"
	}
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, ".", "_")
}

// resourceScope maps a filtered access to the resource node a scoped grant
// binds at, e.g. permission 'cost-management:*:read' with attribute key
// 'aws.account' and value '123456' binds at
// 'cost_management/aws_account:123456'.
func resourceScope(p domain.Permission, def domain.ResourceDefinition, value string) tuple.ObjectReference {
	key := strings.TrimPrefix(def.Key, p.Application+".")
	return tuple.NewObject(permissionSegment(p.Application)+"/"+permissionSegment(key), value)
}
