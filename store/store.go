// Package store implements the credential store the Rendezvous Engine
// consults to authenticate control connections: a keyed lookup of
// token -> {hostname, permission}, durable in sqlite.
package store

import (
	"context"

	"github.com/arkwright/portrelay/command"
)

// Store is the credential store interface the core consumes (SPEC_FULL.md
// §6). Implementations durable-store clients(hostname, permission, token).
type Store interface {
	// LookupByToken returns the hostname and permission registered for
	// token, or ok=false if no row matches. A store I/O error is treated
	// as "not found" by callers (SPEC_FULL.md §7).
	LookupByToken(ctx context.Context, token []byte) (hostname string, perm command.Permission, ok bool, err error)

	// InsertClient adds a row. A username collision is reported as
	// ErrUsernameTaken; callers treat it as a silent no-op.
	InsertClient(ctx context.Context, hostname string, perm command.Permission, token []byte) error

	Close() error
}
