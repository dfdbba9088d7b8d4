package domain

import (
	"encoding/json"
	"fmt"
	"os"
)

// Snapshot is a serialized dump of relational RBAC state, used to seed a
// StaticReader for embedded runs and tooling. Production deployments plug a
// live StateReader in instead.
type Snapshot struct {
	Groups     []*GroupState     `json:"groups,omitempty"`
	Roles      []*RoleState      `json:"roles,omitempty"`
	Workspaces []*WorkspaceState `json:"workspaces,omitempty"`
}

// LoadSnapshot reads a Snapshot from a JSON file and returns a StaticReader
// holding its state.
func LoadSnapshot(path string) (*StaticReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse state snapshot %q: %w", path, err)
	}

	reader := NewStaticReader()
	for _, g := range snapshot.Groups {
		if g.ID == "" {
			return nil, fmt.Errorf("state snapshot %q: group with empty id", path)
		}
		reader.SetGroup(g)
	}
	for _, r := range snapshot.Roles {
		if r.ID == "" {
			return nil, fmt.Errorf("state snapshot %q: role with empty id", path)
		}
		reader.SetRole(r)
	}
	for _, w := range snapshot.Workspaces {
		if w.ID == "" {
			return nil, fmt.Errorf("state snapshot %q: workspace with empty id", path)
		}
		reader.SetWorkspace(w)
	}
	return reader, nil
}
