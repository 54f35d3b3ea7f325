// Package identity computes the deterministic content-addressed
// identifiers (NodeID, FrameID) that every other package in this module
// builds on. Encoding is a fixed, length-prefixed canonical form so two
// independently constructed inputs with the same logical content always
// hash to the same digest, regardless of host endianness or map
// iteration order.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"path"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Size of a NodeID/FrameID in bytes.
const Size = 32

// ID is a fixed-width content-addressed digest shared by NodeID and
// FrameID.
type ID [Size]byte

// String returns the lowercase hex encoding of the digest.
func (id ID) String() string {
	return fmt.Sprintf("%x", [Size]byte(id))
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID decodes the lowercase hex encoding String produces.
func ParseID(s string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse identity: %w", err)
	}
	if len(decoded) != Size {
		return id, fmt.Errorf("parse identity: want %d bytes, got %d", Size, len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// ParseNodeID decodes a NodeID.String() value.
func ParseNodeID(s string) (NodeID, error) {
	id, err := ParseID(s)
	return NodeID(id), err
}

// ParseFrameID decodes a FrameID.String() value.
func ParseFrameID(s string) (FrameID, error) {
	id, err := ParseID(s)
	return FrameID(id), err
}

// NodeID and FrameID are distinct defined types over ID so callers don't
// accidentally compare a node identity with a frame identity.
type (
	NodeID ID
	FrameID ID
)

func (id NodeID) String() string  { return ID(id).String() }
func (id NodeID) IsZero() bool    { return ID(id).IsZero() }
func (id FrameID) String() string { return ID(id).String() }
func (id FrameID) IsZero() bool   { return ID(id).IsZero() }

// NodeKind discriminates file vs directory node records.
type NodeKind uint8

const (
	NodeFile NodeKind = iota + 1
	NodeDir
)

func (k NodeKind) String() string {
	switch k {
	case NodeFile:
		return "file"
	case NodeDir:
		return "dir"
	default:
		return "unknown"
	}
}

// canonicalEncoder builds the fixed, length-prefixed byte stream that
// every hash in this package is computed over.
type canonicalEncoder struct {
	buf []byte
}

func (e *canonicalEncoder) field(data []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, data...)
}

func (e *canonicalEncoder) str(s string) { e.field([]byte(s)) }

func (e *canonicalEncoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.field(b[:])
}

func (e *canonicalEncoder) sum() ID {
	return blake2b.Sum256(e.buf)
}

// NodeIDOf computes the deterministic NodeID for a file or directory.
//
// For files, perKindInputs must be FileInputs.Encode(); for directories,
// DirInputs.Encode(). Callers normally go through NodeIDForFile /
// NodeIDForDir instead of calling this directly.
func NodeIDOf(canonicalPath string, kind NodeKind, perKindInputs []byte) NodeID {
	e := &canonicalEncoder{}
	e.str("node")
	e.str(canonicalPath)
	e.u64(uint64(kind))
	e.field(perKindInputs)
	return NodeID(e.sum())
}

// FileInputs are the per-kind inputs hashed into a file NodeID.
type FileInputs struct {
	Size        int64
	ContentHash ID // digest of the file's content, independent of NodeID
}

// Encode returns the canonical byte form consumed by NodeIDOf.
func (f FileInputs) Encode() []byte {
	e := &canonicalEncoder{}
	e.u64(uint64(f.Size))
	e.field(f.ContentHash[:])
	return e.buf
}

// DirInputs are the per-kind inputs hashed into a directory NodeID: the
// ordered list of child NodeIDs. Children must already be sorted by
// canonical path before calling Encode; this package never re-sorts.
type DirInputs struct {
	Children []NodeID
}

// Encode returns the canonical byte form consumed by NodeIDOf.
func (d DirInputs) Encode() []byte {
	e := &canonicalEncoder{}
	e.u64(uint64(len(d.Children)))
	for _, c := range d.Children {
		e.field(c[:])
	}
	return e.buf
}

// NodeIDForFile computes the NodeID of a file node.
func NodeIDForFile(canonicalPath string, size int64, contentHash ID) NodeID {
	return NodeIDOf(canonicalPath, NodeFile, FileInputs{Size: size, ContentHash: contentHash}.Encode())
}

// NodeIDForDir computes the NodeID of a directory node from its
// already-sorted children.
func NodeIDForDir(canonicalPath string, sortedChildren []NodeID) NodeID {
	return NodeIDOf(canonicalPath, NodeDir, DirInputs{Children: sortedChildren}.Encode())
}

// ContentHash hashes raw file content. The tree walker streams content
// through NewContentHasher for large files instead of buffering it.
func ContentHash(content []byte) ID {
	return blake2b.Sum256(content)
}

// NewContentHasher returns a streaming hash.Hash whose Sum matches
// ContentHash for the same bytes, so large files can be hashed via
// io.Copy without buffering.
func NewContentHasher() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// BasisKind discriminates the three basis shapes a Frame can have.
type BasisKind uint8

const (
	BasisNodeOnly BasisKind = iota + 1
	BasisPreviousFrame
	BasisNodeAndPrev
)

// Basis describes the inputs a frame was generated from.
type Basis struct {
	Kind     BasisKind
	Node     NodeID  // set for BasisNodeOnly, BasisNodeAndPrev
	PrevFrame FrameID // set for BasisPreviousFrame, BasisNodeAndPrev
}

func (b Basis) encode(e *canonicalEncoder) {
	e.u64(uint64(b.Kind))
	e.field(b.Node[:])
	e.field(b.PrevFrame[:])
}

// FrameIDOf computes the deterministic FrameID for a frame. It is a pure
// function of structural fields only — metadata never participates, by
// design (see SPEC_FULL.md §9 open question).
func FrameIDOf(basis Basis, node NodeID, agentID, frameType string, content []byte) FrameID {
	e := &canonicalEncoder{}
	e.str("frame")
	basis.encode(e)
	e.field(node[:])
	e.str(agentID)
	e.str(frameType)
	e.field(content)
	return FrameID(e.sum())
}

// ErrPathEscapesWorkspace is returned by CanonicalizePath when the
// supplied path resolves outside the workspace root.
var ErrPathEscapesWorkspace = fmt.Errorf("path escapes workspace root")

// CanonicalizePath normalizes p relative to workspaceRoot into
// workspace-relative, forward-slash form: separators are normalized,
// "."/".." segments are collapsed, and a resulting path that climbs
// above the workspace root is rejected.
func CanonicalizePath(workspaceRoot, p string) (string, error) {
	p = filepathToSlash(p)
	workspaceRoot = filepathToSlash(workspaceRoot)

	if strings.HasPrefix(p, workspaceRoot+"/") {
		p = strings.TrimPrefix(p, workspaceRoot+"/")
	} else if p == workspaceRoot {
		p = "."
	}

	clean := path.Clean(p)
	if clean == "." {
		return ".", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesWorkspace, p)
	}
	return clean, nil
}

// filepathToSlash avoids importing path/filepath just for ToSlash so
// this package stays allocation-light and platform-neutral in tests.
func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
