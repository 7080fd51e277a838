package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"audacity-mcp/internal/domain"
)

// ConfineToBase resolves path relative to baseDir and returns the canonical
// absolute result only if it stays inside baseDir's resolved tree. An
// absolute path is checked as-is. Components that do not exist yet are kept
// lexically; every existing prefix has its symlinks resolved.
func ConfineToBase(path, baseDir string) (string, bool) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", false
	}
	base := resolveExisting(absBase)

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(absBase, target)
	}
	resolved := resolveExisting(filepath.Clean(target))

	if !isWithin(resolved, base) {
		return "", false
	}
	return resolved, true
}

// resolveExisting evaluates symlinks on the longest existing prefix of abs
// and re-appends the remaining components.
func resolveExisting(abs string) string {
	cur := abs
	var rest []string
	for {
		if r, err := filepath.EvalSymlinks(cur); err == nil {
			parts := make([]string, 0, len(rest)+1)
			parts = append(parts, r)
			for i := len(rest) - 1; i >= 0; i-- {
				parts = append(parts, rest[i])
			}
			return filepath.Join(parts...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	if strings.HasSuffix(root, string(os.PathSeparator)) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(os.PathSeparator))
}

// Sandbox confines caller-supplied relative paths to an existing directory.
type Sandbox struct {
	root string // absolute, resolved root
}

// NewSandbox creates a sandbox rooted at the given directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// Confine maps requested onto a path inside the sandbox root.
func (s *Sandbox) Confine(requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return "", domain.NewDomainError("Sandbox.Confine", domain.ErrPathOutsideSandbox, "empty path")
	}
	resolved, ok := ConfineToBase(requested, s.root)
	if !ok {
		return "", domain.NewDomainError("Sandbox.Confine", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("%q escapes the sandbox root", requested))
	}
	return resolved, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }
