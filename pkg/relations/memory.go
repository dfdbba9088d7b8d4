package relations

import (
	"context"
	"sync"

	"github.com/relationsync/relationsync/pkg/tuple"
)

// Memory is an in-process relationship store with the same write semantics
// as the remote one: touch writes are idempotent, touch=false writes are
// all-or-nothing on conflict, deletes are delete-if-exists. It backs the
// embedded run mode and tests.
type Memory struct {
	mu   sync.RWMutex
	rels map[string]tuple.Relationship
}

var _ Client = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rels: make(map[string]tuple.Relationship)}
}

func (m *Memory) Write(ctx context.Context, touch bool, rels []tuple.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range rels {
		if err := r.Validate(); err != nil {
			return &RejectedError{Relationship: &r, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !touch {
		// A conflict rejects the whole batch; nothing is applied.
		for _, r := range rels {
			if _, ok := m.rels[r.String()]; ok {
				return &ConflictError{Relationship: r}
			}
		}
	}
	for _, r := range rels {
		m.rels[r.String()] = r
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, rels []tuple.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rels {
		delete(m.rels, r.String())
	}
	return nil
}

func (m *Memory) Read(ctx context.Context, filter Filter) ([]tuple.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tuple.Relationship
	for _, r := range m.rels {
		if matches(r, filter) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matches(r tuple.Relationship, f Filter) bool {
	if f.ObjectType != "" && r.Object.Type != f.ObjectType {
		return false
	}
	if f.ObjectID != "" && r.Object.ID != f.ObjectID {
		return false
	}
	if f.Relation != "" && r.Relation != f.Relation {
		return false
	}
	if f.SubjectType != "" && r.Subject.Object.Type != f.SubjectType {
		return false
	}
	if f.SubjectID != "" && r.Subject.Object.ID != f.SubjectID {
		return false
	}
	if f.SubjectRelation != "" && r.Subject.Relation != f.SubjectRelation {
		return false
	}
	return true
}

// All returns a snapshot of every stored relationship.
func (m *Memory) All() *tuple.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := tuple.NewSet()
	for _, r := range m.rels {
		set.Add(r)
	}
	return set
}

// Seed inserts relationships directly, bypassing write semantics. Intended
// for tests simulating manual store edits.
func (m *Memory) Seed(rels ...tuple.Relationship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rels {
		m.rels[r.String()] = r
	}
}

// Drop removes relationships directly, bypassing write semantics. Intended
// for tests simulating lost writes.
func (m *Memory) Drop(rels ...tuple.Relationship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rels {
		delete(m.rels, r.String())
	}
}
