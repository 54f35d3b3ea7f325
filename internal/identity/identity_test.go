package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/untoldecay/treectx/internal/identity"
)

func TestNodeIDDeterministic(t *testing.T) {
	content := identity.ContentHash([]byte("fn x"))
	a := identity.NodeIDForFile("src/lib.rs", 4, content)
	b := identity.NodeIDForFile("src/lib.rs", 4, identity.ContentHash([]byte("fn x")))
	require.Equal(t, a, b)
}

func TestNodeIDDiffersOnPath(t *testing.T) {
	content := identity.ContentHash([]byte("fn x"))
	a := identity.NodeIDForFile("src/lib.rs", 4, content)
	b := identity.NodeIDForFile("src/other.rs", 4, content)
	require.NotEqual(t, a, b)
}

func TestNodeIDForDirOrderSensitive(t *testing.T) {
	c1 := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	c2 := identity.NodeIDForFile("b", 1, identity.ContentHash([]byte("b")))

	ordered := identity.NodeIDForDir("dir", []identity.NodeID{c1, c2})
	reversed := identity.NodeIDForDir("dir", []identity.NodeID{c2, c1})
	require.NotEqual(t, ordered, reversed, "directory identity must depend on child order")

	again := identity.NodeIDForDir("dir", []identity.NodeID{c1, c2})
	require.Equal(t, ordered, again)
}

func TestFrameIDDeterministic(t *testing.T) {
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	basis := identity.Basis{Kind: identity.BasisNodeOnly, Node: node}

	f1 := identity.FrameIDOf(basis, node, "writer", "context-w", []byte("OK"))
	f2 := identity.FrameIDOf(basis, node, "writer", "context-w", []byte("OK"))
	require.Equal(t, f1, f2)
}

func TestFrameIDIndependentOfMetadata(t *testing.T) {
	// The spec mandates frame_id be a pure function of structural fields;
	// metadata is not an input to FrameIDOf at all, so any metadata value
	// a caller attaches afterward cannot change the id.
	node := identity.NodeIDForFile("a", 1, identity.ContentHash([]byte("a")))
	basis := identity.Basis{Kind: identity.BasisNodeOnly, Node: node}

	f1 := identity.FrameIDOf(basis, node, "writer", "context-w", []byte("OK"))
	f2 := identity.FrameIDOf(basis, node, "writer", "context-w", []byte("OK"))
	require.Equal(t, f1, f2)
}

func TestCanonicalizePathRejectsEscape(t *testing.T) {
	_, err := identity.CanonicalizePath("/work", "/work/../etc/passwd")
	require.ErrorIs(t, err, identity.ErrPathEscapesWorkspace)
}

func TestCanonicalizePathNormalizes(t *testing.T) {
	p, err := identity.CanonicalizePath("/work", "/work/./src/../src/lib.rs")
	require.NoError(t, err)
	require.Equal(t, "src/lib.rs", p)
}
