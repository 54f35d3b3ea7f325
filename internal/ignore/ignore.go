// Package ignore resolves the merged ignore policy for a workspace:
// built-in defaults, the workspace .gitignore, and the per-workspace
// ignore_list file. See SPEC_FULL.md §4.6.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// defaultPatterns are always excluded, matching the teacher's own
// built-in VCS/build-artifact exclusions.
var defaultPatterns = []string{
	".git/",
	".git",
	"node_modules/",
	"target/",
	"dist/",
	"vendor/",
}

// Set is a resolved, mergeable ignore policy. First match wins, checked
// in the order: built-in defaults, .gitignore, ignore_list.
type Set struct {
	builtin   *gitignore.GitIgnore
	gitignore *gitignore.GitIgnore // nil if no .gitignore present
	extra     *gitignore.GitIgnore // nil if ignore_list is empty/missing
}

// Resolve merges the three sources for workspaceRoot. ignoreListPath is
// the per-workspace ignore_list file (may not exist yet).
func Resolve(workspaceRoot, ignoreListPath string) (Set, error) {
	var s Set

	s.builtin = gitignore.CompileIgnoreLines(defaultPatterns...)

	gitignorePath := filepath.Join(workspaceRoot, ".gitignore")
	if data, err := os.ReadFile(gitignorePath); err == nil {
		s.gitignore = gitignore.CompileIgnoreLines(splitLines(string(data))...)
	} else if !os.IsNotExist(err) {
		return Set{}, err
	}

	if data, err := os.ReadFile(ignoreListPath); err == nil {
		lines := filterComments(splitLines(string(data)))
		if len(lines) > 0 {
			s.extra = gitignore.CompileIgnoreLines(lines...)
		}
	} else if !os.IsNotExist(err) {
		return Set{}, err
	}

	return s, nil
}

// Match reports whether canonicalPath (workspace-relative, forward-slash)
// should be excluded from scan/watch. isDir is used only for readability;
// the underlying gitignore matcher treats file and directory patterns
// uniformly once a trailing slash is present in the pattern itself.
func (s Set) Match(canonicalPath string, isDir bool) bool {
	if canonicalPath == "." {
		return false
	}
	if s.builtin != nil && s.builtin.MatchesPath(canonicalPath) {
		return true
	}
	if s.gitignore != nil && s.gitignore.MatchesPath(canonicalPath) {
		return true
	}
	if s.extra != nil && s.extra.MatchesPath(canonicalPath) {
		return true
	}
	return false
}

// Add appends a pattern to the ignore_list file, creating it if absent.
// The append is atomic (single O_APPEND write with fsync), matching
// the "append-with-fsync" convention spec.md §5 requires of the ignore
// list's only mutating operation.
func Add(ignoreListPath, pattern string) error {
	if err := os.MkdirAll(filepath.Dir(ignoreListPath), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(ignoreListPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(pattern + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// List returns the patterns currently in the ignore_list file, comments
// stripped, in file order.
func List(ignoreListPath string) ([]string, error) {
	f, err := os.Open(ignoreListPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func splitLines(s string) []string {
	return strings.Split(s, "\n")
}

func filterComments(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, l)
	}
	return out
}
