package command

import (
	"encoding/binary"
	"fmt"
)

// Command is a single control message carried inside one Tunnel frame.
type Command interface {
	// Encode appends the wire encoding of the command (tag byte first) to dst.
	Encode(dst []byte) []byte
}

const (
	tagNoop = iota
	tagAuthenticate
	tagGetPort
	tagSharePort
	tagListClients
	tagAddClient
	tagRemoveClient
	tagListNodes
	tagAddNode
	tagRemoveNode
	tagNodeList
)

type Noop struct{}

type Authenticate struct {
	Token []byte
}

type GetPort struct {
	Hostname string
	Port     uint32
}

type SharePort struct {
	Port uint32
	ID   uint64
}

type ListClients struct {
	After string
	Limit uint64
}

type AddClient struct {
	Username   string
	Token      []byte
	Permission Permission
}

type RemoveClient struct {
	Username string
}

// ListNodes, AddNode and RemoveNode supplement the distilled command set
// with the node-inventory operations present in the original source
// (see SPEC_FULL.md §3).
type ListNodes struct {
	After string
	Limit uint64
}

type AddNode struct {
	Hostname string
}

type RemoveNode struct {
	Hostname string
}

// NodeList is the rendezvous's response to ListNodes: the matching
// hostnames, in the same order the registry returned them.
type NodeList struct {
	Hostnames []string
}

func (Noop) Encode(dst []byte) []byte { return append(dst, tagNoop) }

func (c Authenticate) Encode(dst []byte) []byte {
	dst = append(dst, tagAuthenticate)
	return putBytes(dst, c.Token)
}

func (c GetPort) Encode(dst []byte) []byte {
	dst = append(dst, tagGetPort)
	dst = putString(dst, c.Hostname)
	return putUint32(dst, c.Port)
}

func (c SharePort) Encode(dst []byte) []byte {
	dst = append(dst, tagSharePort)
	dst = putUint32(dst, c.Port)
	return putUint64(dst, c.ID)
}

func (c ListClients) Encode(dst []byte) []byte {
	dst = append(dst, tagListClients)
	dst = putString(dst, c.After)
	return putUint64(dst, c.Limit)
}

func (c AddClient) Encode(dst []byte) []byte {
	dst = append(dst, tagAddClient)
	dst = putString(dst, c.Username)
	dst = putBytes(dst, c.Token)
	return putPermission(dst, c.Permission)
}

func (c RemoveClient) Encode(dst []byte) []byte {
	dst = append(dst, tagRemoveClient)
	return putString(dst, c.Username)
}

func (c ListNodes) Encode(dst []byte) []byte {
	dst = append(dst, tagListNodes)
	dst = putString(dst, c.After)
	return putUint64(dst, c.Limit)
}

func (c AddNode) Encode(dst []byte) []byte {
	dst = append(dst, tagAddNode)
	return putString(dst, c.Hostname)
}

func (c RemoveNode) Encode(dst []byte) []byte {
	dst = append(dst, tagRemoveNode)
	return putString(dst, c.Hostname)
}

func (c NodeList) Encode(dst []byte) []byte {
	dst = append(dst, tagNodeList)
	dst = putUint32(dst, uint32(len(c.Hostnames)))
	for _, hostname := range c.Hostnames {
		dst = putString(dst, hostname)
	}
	return dst
}

// Decode parses one Command from its wire encoding (as produced by Encode).
func Decode(b []byte) (Command, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("command: empty payload")
	}
	tag, rest := b[0], b[1:]

	switch tag {
	case tagNoop:
		return Noop{}, nil
	case tagAuthenticate:
		token, _, err := getBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode Authenticate: %w", err)
		}
		return Authenticate{Token: token}, nil
	case tagGetPort:
		hostname, rest, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode GetPort: %w", err)
		}
		port, _, err := getUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode GetPort: %w", err)
		}
		return GetPort{Hostname: hostname, Port: port}, nil
	case tagSharePort:
		port, rest, err := getUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode SharePort: %w", err)
		}
		id, _, err := getUint64(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode SharePort: %w", err)
		}
		return SharePort{Port: port, ID: id}, nil
	case tagListClients:
		after, rest, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode ListClients: %w", err)
		}
		limit, _, err := getUint64(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode ListClients: %w", err)
		}
		return ListClients{After: after, Limit: limit}, nil
	case tagAddClient:
		username, rest, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode AddClient: %w", err)
		}
		token, rest, err := getBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode AddClient: %w", err)
		}
		perm, _, err := getPermission(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode AddClient: %w", err)
		}
		return AddClient{Username: username, Token: token, Permission: perm}, nil
	case tagRemoveClient:
		username, _, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode RemoveClient: %w", err)
		}
		return RemoveClient{Username: username}, nil
	case tagListNodes:
		after, rest, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode ListNodes: %w", err)
		}
		limit, _, err := getUint64(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode ListNodes: %w", err)
		}
		return ListNodes{After: after, Limit: limit}, nil
	case tagAddNode:
		hostname, _, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode AddNode: %w", err)
		}
		return AddNode{Hostname: hostname}, nil
	case tagRemoveNode:
		hostname, _, err := getString(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode RemoveNode: %w", err)
		}
		return RemoveNode{Hostname: hostname}, nil
	case tagNodeList:
		count, rest, err := getUint32(rest)
		if err != nil {
			return nil, fmt.Errorf("command: decode NodeList: %w", err)
		}
		hostnames := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			var hostname string
			hostname, rest, err = getString(rest)
			if err != nil {
				return nil, fmt.Errorf("command: decode NodeList: %w", err)
			}
			hostnames = append(hostnames, hostname)
		}
		return NodeList{Hostnames: hostnames}, nil
	default:
		return nil, fmt.Errorf("command: unknown tag %d", tag)
	}
}

// MinPermission returns the minimum Permission required to issue cmd.
func MinPermission(cmd Command) Permission {
	switch c := cmd.(type) {
	case Noop, Authenticate:
		return Any
	case GetPort:
		return Standard
	case SharePort:
		return Node
	case ListClients, RemoveClient:
		return Admin(0)
	case AddClient:
		if c.Permission.Kind == PermissionAdmin {
			return Admin(c.Permission.AdminLevel + 1)
		}
		return Admin(0)
	case ListNodes:
		return Standard
	case AddNode, RemoveNode:
		return Admin(0)
	case NodeList:
		// Server-originated response, never issued by a caller.
		return Any
	default:
		return Admin(0)
	}
}

func putUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func putUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func putBytes(dst, v []byte) []byte {
	dst = putUint32(dst, uint32(len(v)))
	return append(dst, v...)
}

func putString(dst []byte, v string) []byte {
	return putBytes(dst, []byte(v))
}

func putPermission(dst []byte, p Permission) []byte {
	dst = append(dst, byte(p.Kind))
	return putUint32(dst, p.AdminLevel)
}

func getUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("short uint32")
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func getUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("short uint64")
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], nil
}

func getBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := getUint32(b)
	if err != nil {
		return nil, nil, fmt.Errorf("length prefix: %w", err)
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("short payload: want %d, have %d", n, len(rest))
	}
	return rest[:n], rest[n:], nil
}

func getString(b []byte) (string, []byte, error) {
	v, rest, err := getBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(v), rest, nil
}

func getPermission(b []byte) (Permission, []byte, error) {
	if len(b) < 1 {
		return Permission{}, nil, fmt.Errorf("short permission")
	}
	kind := PermissionKind(b[0])
	level, rest, err := getUint32(b[1:])
	if err != nil {
		return Permission{}, nil, fmt.Errorf("permission admin level: %w", err)
	}
	return Permission{Kind: kind, AdminLevel: level}, rest, nil
}
