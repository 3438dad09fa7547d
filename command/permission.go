// Package command implements the tagged-union control message set exchanged
// over a Tunnel, and the permission model that gates it.
package command

import (
	"encoding/binary"
	"fmt"
)

// PermissionKind discriminates the variants of Permission.
type PermissionKind uint8

const (
	PermissionAdmin PermissionKind = iota
	PermissionStandard
	PermissionNode
	PermissionAny
)

// Permission is the subject's (or a command's minimum) access level.
// Admin carries a level: higher AdminLevel is stronger (see AtLeast).
type Permission struct {
	Kind       PermissionKind
	AdminLevel uint32
}

func Admin(level uint32) Permission { return Permission{Kind: PermissionAdmin, AdminLevel: level} }

var (
	Standard = Permission{Kind: PermissionStandard}
	Node     = Permission{Kind: PermissionNode}
	Any      = Permission{Kind: PermissionAny}
)

func (p Permission) String() string {
	switch p.Kind {
	case PermissionAdmin:
		return fmt.Sprintf("Admin(%d)", p.AdminLevel)
	case PermissionStandard:
		return "Standard"
	case PermissionNode:
		return "Node"
	case PermissionAny:
		return "Any"
	default:
		return "Unknown"
	}
}

// AtLeast reports whether p satisfies the permission requirement other.
//
// Reflexive on every variant. Admin(j).AtLeast(Admin(k)) holds iff j >= k —
// this is the resolved direction of the upstream's two conflicting
// implementations (see DESIGN.md). Any is always satisfied as other,
// never grants anything as the subject unless p == other.
func (p Permission) AtLeast(other Permission) bool {
	if p == other {
		return true
	}
	if other.Kind == PermissionAny {
		return true
	}
	if p.Kind == PermissionAdmin && other.Kind == PermissionAdmin {
		return p.AdminLevel >= other.AdminLevel
	}
	return false
}

// EncodePermissionBlob serializes p as the permission_blob stored in the
// credential store's clients table (SPEC_FULL.md §6).
func EncodePermissionBlob(p Permission) []byte {
	blob := make([]byte, 5)
	blob[0] = byte(p.Kind)
	binary.LittleEndian.PutUint32(blob[1:], p.AdminLevel)
	return blob
}

// DecodePermissionBlob parses a permission_blob produced by EncodePermissionBlob.
func DecodePermissionBlob(blob []byte) (Permission, error) {
	if len(blob) != 5 {
		return Permission{}, fmt.Errorf("command: permission blob must be 5 bytes, got %d", len(blob))
	}
	return Permission{Kind: PermissionKind(blob[0]), AdminLevel: binary.LittleEndian.Uint32(blob[1:])}, nil
}
