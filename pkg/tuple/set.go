package tuple

import "sort"

// Set is a set of relationships keyed by their canonical three-field value.
// The zero value is not usable; construct with [NewSet]. A Set is not safe
// for concurrent mutation.
type Set struct {
	members map[string]Relationship
}

// NewSet returns a Set holding the given relationships, deduplicated by
// value.
func NewSet(rels ...Relationship) *Set {
	s := &Set{members: make(map[string]Relationship, len(rels))}
	for _, r := range rels {
		s.Add(r)
	}
	return s
}

// Add inserts r. Adding an already present relationship is a no-op.
func (s *Set) Add(r Relationship) {
	s.members[r.String()] = r
}

// Remove deletes r if present.
func (s *Set) Remove(r Relationship) {
	delete(s.members, r.String())
}

// Contains reports whether r is a member.
func (s *Set) Contains(r Relationship) bool {
	_, ok := s.members[r.String()]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	return len(s.members)
}

// Slice returns the members ordered by canonical string form. The order is
// deterministic so that repeated derivations of the same set serialize
// identically.
func (s *Set) Slice() []Relationship {
	out := make([]Relationship, 0, len(s.members))
	for _, r := range s.members {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Union returns a new Set holding every member of s and other.
func (s *Set) Union(other *Set) *Set {
	out := NewSet()
	for k, r := range s.members {
		out.members[k] = r
	}
	for k, r := range other.members {
		out.members[k] = r
	}
	return out
}

// Difference returns a new Set holding the members of s not in other.
func (s *Set) Difference(other *Set) *Set {
	out := NewSet()
	for k, r := range s.members {
		if _, ok := other.members[k]; !ok {
			out.members[k] = r
		}
	}
	return out
}

// Equal reports whether s and other hold exactly the same members.
func (s *Set) Equal(other *Set) bool {
	if len(s.members) != len(other.members) {
		return false
	}
	for k := range s.members {
		if _, ok := other.members[k]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	out := NewSet()
	for k, r := range s.members {
		out.members[k] = r
	}
	return out
}

// Objects returns the distinct object references appearing on the object
// side of the members.
func (s *Set) Objects() []ObjectReference {
	seen := make(map[ObjectReference]struct{})
	for _, r := range s.members {
		seen[r.Object] = struct{}{}
	}
	out := make([]ObjectReference, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Diff computes the delta that transforms a store holding exactly old into
// one holding exactly new: add = new−old, remove = old−new. The two result
// sets are disjoint by construction, so applying them in either order against
// a store holding old yields new.
func Diff(old, new *Set) (add, remove *Set) {
	return new.Difference(old), old.Difference(new)
}
