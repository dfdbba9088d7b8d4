// Package sqlite provides a SQLite based implementation of
// [storage.RecordStore].
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/relationsync/relationsync/pkg/storage"
	"github.com/relationsync/relationsync/pkg/storage/sqlcommon"
)

// PrepareDSN prepares a raw DSN from config for use with SQLite, specifying
// defaults for journal mode and busy timeout.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New opens uri and returns a record store over it. The schema must already
// be migrated, see [storage.RunMigrations].
func New(uri string, opts ...sqlcommon.Option) (*sqlcommon.Store, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	return sqlcommon.NewStore(db, sq.Question, opts...)
}

// Open is like New but also runs migrations first, for embedded use.
func Open(uri string, opts ...sqlcommon.Option) (*sqlcommon.Store, error) {
	prepared, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", prepared)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}
	if err := storage.RunMigrations(db, "sqlite3"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sqlcommon.NewStore(db, sq.Question, opts...)
}
