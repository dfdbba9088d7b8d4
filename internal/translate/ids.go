package translate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// Fixed namespaces for derived identifiers. Changing either would re-mint
// every sub-role and binding id in the graph, so they are permanent.
var (
	subRoleNamespace = uuid.MustParse("6a9ee3f0-3c8d-5a61-9f52-77a19a4c3f1d")
	bindingNamespace = uuid.MustParse("c4b2f9d8-1e07-5b43-8d16-2f90ab5c7e24")
)

// SubRoleID mints the object id of the scoped sub-role representing one
// permission of a role narrowed by a resource filter. The id is a UUIDv5
// over the role id, the permission, and a content hash of the filter, so
// re-translation of the same input always yields the same id.
func SubRoleID(roleID string, permission domain.Permission, defs []domain.ResourceDefinition) string {
	name := roleID + "|" + permission.String() + "|" + strconv.FormatUint(filterHash(defs), 16)
	return uuid.NewSHA1(subRoleNamespace, []byte(name)).String()
}

// BindingID mints the object id of the role binding granting one role node to
// one group at one scope. Bindings are derived state, so the id must be as
// reproducible as the sub-role ids they grant.
func BindingID(roleID, groupID string, node, scope tuple.ObjectReference) string {
	name := strings.Join([]string{roleID, groupID, node.String(), scope.String()}, "|")
	return uuid.NewSHA1(bindingNamespace, []byte(name)).String()
}

// filterHash computes a content hash over resource definitions that is
// insensitive to definition and value ordering.
func filterHash(defs []domain.ResourceDefinition) uint64 {
	parts := make([]string, 0, len(defs))
	for _, def := range defs {
		values := append([]string(nil), def.Values...)
		sort.Strings(values)
		parts = append(parts, def.Key+"\x00"+def.Operation+"\x00"+strings.Join(values, "\x00"))
	}
	sort.Strings(parts)

	digest := xxhash.New()
	for _, p := range parts {
		_, _ = digest.WriteString(p)
		_, _ = digest.WriteString("\x01")
	}
	return digest.Sum64()
}
