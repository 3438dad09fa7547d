package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/arkwright/portrelay/command"
)

// ErrUsernameTaken is returned by InsertClient on a username collision, and
// also on a token collision (any UNIQUE constraint failure).
var ErrUsernameTaken = errors.New("store: username already exists")

var sqliteConstraintRe = regexp.MustCompile(`UNIQUE constraint failed`)

// SQLiteStore stores clients in a sqlite3 database, grounded on
// R2Northstar-Atlas's db/atlasdb package (sqlx + WAL pragmas + numbered
// migrations).
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens a SQLiteStore backed by the sqlite3 file at path, running any
// pending migrations. path is used as a plain file path: Open appends its
// own connection parameters, and a full go-sqlite3 DSN (a "file:" URI or
// one with its own query string) is not passed through as such.
func Open(path string) (*SQLiteStore, error) {
	// WAL and a larger cache make our writes and queries much faster under
	// concurrent connection handling, same rationale as atlasdb.Open.
	dsn := (&url.URL{
		Path: path,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String()

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	s := &SQLiteStore{db: db}

	var latest uint64
	for v := range migrations {
		if v > latest {
			latest = v
		}
	}
	if err := s.MigrateUp(context.Background(), latest); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LookupByToken(ctx context.Context, token []byte) (string, command.Permission, bool, error) {
	var row struct {
		Hostname   string `db:"hostname"`
		Permission []byte `db:"permission"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT hostname, permission FROM clients WHERE token = ?`, string(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", command.Permission{}, false, nil
		}
		return "", command.Permission{}, false, fmt.Errorf("store: lookup by token: %w", err)
	}

	perm, err := command.DecodePermissionBlob(row.Permission)
	if err != nil {
		return "", command.Permission{}, false, fmt.Errorf("store: decode permission: %w", err)
	}
	return row.Hostname, perm, true, nil
}

func (s *SQLiteStore) InsertClient(ctx context.Context, hostname string, perm command.Permission, token []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (hostname, permission, token) VALUES (?, ?, ?)`,
		hostname, command.EncodePermissionBlob(perm), string(token))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("store: insert client: %w", err)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	// go-sqlite3 reports constraint violations with this substring; avoiding
	// an import of the driver's error type keeps this check resilient to
	// driver internals changing across versions.
	return err != nil && sqliteConstraintRe.MatchString(err.Error())
}
