package domain

import (
	"context"
	"sort"
	"sync"
)

// StaticReader is an in-memory StateReader. It backs the embedded run mode
// and tests; mutations through the setters model RBAC writes committing.
type StaticReader struct {
	mu         sync.RWMutex
	groups     map[string]*GroupState
	roles      map[string]*RoleState
	workspaces map[string]*WorkspaceState
}

var _ StateReader = (*StaticReader)(nil)

func NewStaticReader() *StaticReader {
	return &StaticReader{
		groups:     make(map[string]*GroupState),
		roles:      make(map[string]*RoleState),
		workspaces: make(map[string]*WorkspaceState),
	}
}

func (r *StaticReader) SetGroup(g *GroupState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
}

func (r *StaticReader) DeleteGroup(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, id)
}

func (r *StaticReader) SetRole(role *RoleState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.ID] = role
}

func (r *StaticReader) DeleteRole(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, id)
}

func (r *StaticReader) SetWorkspace(w *WorkspaceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[w.ID] = w
}

func (r *StaticReader) DeleteWorkspace(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workspaces, id)
}

func (r *StaticReader) Group(_ context.Context, id string) (*GroupState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *StaticReader) Role(_ context.Context, id string) (*RoleState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (r *StaticReader) Workspace(_ context.Context, id string) (*WorkspaceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *StaticReader) ListRefs(_ context.Context) ([]ObjectRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]ObjectRef, 0, len(r.groups)+len(r.roles)+len(r.workspaces))
	for id := range r.groups {
		refs = append(refs, GroupRef(id))
	}
	for id := range r.roles {
		refs = append(refs, RoleRef(id))
	}
	for id := range r.workspaces {
		refs = append(refs, WorkspaceRef(id))
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs, nil
}
