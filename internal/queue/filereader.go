package queue

import (
	"os"
	"path/filepath"
)

// WorkspaceFileReader reads files relative to a fixed workspace root. It
// is the default FileReader implementation; tests substitute their own.
type WorkspaceFileReader struct {
	Root string
}

// ReadFile reads canonicalPath (workspace-relative, forward-slash) from
// disk.
func (w WorkspaceFileReader) ReadFile(canonicalPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(w.Root, filepath.FromSlash(canonicalPath)))
}
