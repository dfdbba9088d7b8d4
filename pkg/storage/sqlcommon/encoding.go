package sqlcommon

import (
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relationsync/relationsync/pkg/tuple"
)

// Relationship sets are persisted as newline-joined canonical tuple strings.
// Set.Slice is deterministic, so equal sets always serialize identically.
func encodeRelationships(set *tuple.Set) string {
	if set == nil {
		return ""
	}
	rels := set.Slice()
	lines := make([]string, 0, len(rels))
	for _, r := range rels {
		lines = append(lines, r.String())
	}
	return strings.Join(lines, "\n")
}

func decodeRelationships(encoded string) (*tuple.Set, error) {
	set := tuple.NewSet()
	if encoded == "" {
		return set, nil
	}
	for _, line := range strings.Split(encoded, "\n") {
		rel, err := tuple.Parse(line)
		if err != nil {
			return nil, err
		}
		set.Add(rel)
	}
	return set, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func errField(err error) zap.Field {
	return zap.Error(err)
}
