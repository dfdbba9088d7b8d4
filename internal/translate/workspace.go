package translate

import (
	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// Workspace derives the canonical set for one workspace's position in the
// scope hierarchy: a single parent tuple, so that grant resolution can walk
// scope ancestry through the graph store's own relation semantics. A root
// workspace parents to its tenant.
func Workspace(state *domain.WorkspaceState) (*tuple.Set, error) {
	if state.ID == "" {
		return nil, &IncompleteStateError{Ref: domain.WorkspaceRef(state.ID), Missing: "workspace id"}
	}

	workspace := tuple.NewObject(TypeWorkspace, state.ID)
	set := tuple.NewSet()

	if state.Type == domain.WorkspaceRoot {
		if state.TenantID == "" {
			return nil, &IncompleteStateError{Ref: domain.WorkspaceRef(state.ID), Missing: "tenant id"}
		}
		set.Add(tuple.New(workspace, RelationParent, tuple.Direct(tuple.NewObject(TypeTenant, state.TenantID))))
		return set, nil
	}

	if state.ParentID == "" {
		return nil, &IncompleteStateError{Ref: domain.WorkspaceRef(state.ID), Missing: "parent workspace id"}
	}
	set.Add(tuple.New(workspace, RelationParent, tuple.Direct(tuple.NewObject(TypeWorkspace, state.ParentID))))

	return set, nil
}
