package translate

import (
	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// Group derives the canonical set for one group: a member tuple per directly
// assigned principal, and a relation-valued member tuple per nested subgroup.
// Transitive membership is not flattened here; the graph store resolves it
// through the subgroup's own member relation.
func Group(state *domain.GroupState) (*tuple.Set, error) {
	if state.ID == "" {
		return nil, &IncompleteStateError{Ref: domain.GroupRef(state.ID), Missing: "group id"}
	}

	group := tuple.NewObject(TypeGroup, state.ID)
	set := tuple.NewSet()

	for _, principal := range state.Principals {
		if principal == "" {
			return nil, &IncompleteStateError{Ref: domain.GroupRef(state.ID), Missing: "principal id"}
		}
		set.Add(tuple.New(group, RelationMember, tuple.Direct(tuple.NewObject(TypeUser, principal))))
	}

	for _, subgroup := range state.Subgroups {
		if subgroup == "" {
			return nil, &IncompleteStateError{Ref: domain.GroupRef(state.ID), Missing: "subgroup id"}
		}
		set.Add(tuple.New(group, RelationMember, tuple.SubjectSet(tuple.NewObject(TypeGroup, subgroup), RelationMember)))
	}

	return set, nil
}
