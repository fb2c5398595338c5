package agentloop

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirEntry represents a filesystem directory entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// Workspace abstracts where file-backed tools operate. Implementations
// resolve relative paths against a single root; policy decisions stay with
// the SandboxPolicy, not the workspace.
type Workspace interface {
	Root() string
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error
	FileExists(path string) bool
	ListDirectory(path string) ([]DirEntry, error)
	Glob(pattern string, path string) ([]string, error)
}

// LocalWorkspace runs file operations on the local machine under a root
// directory.
type LocalWorkspace struct {
	root string
}

// NewLocalWorkspace creates a workspace rooted at root (defaults to the
// current working directory).
func NewLocalWorkspace(root string) (*LocalWorkspace, error) {
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalWorkspace{root: abs}, nil
}

// Root returns the workspace root directory.
func (w *LocalWorkspace) Root() string {
	return w.root
}

func (w *LocalWorkspace) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.root, p)
}

func (w *LocalWorkspace) ReadFile(p string) (string, error) {
	data, err := os.ReadFile(w.resolve(p))
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	return string(data), nil
}

func (w *LocalWorkspace) WriteFile(p string, content string) error {
	resolved := w.resolve(p)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("write_file: create directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func (w *LocalWorkspace) FileExists(p string) bool {
	_, err := os.Stat(w.resolve(p))
	return err == nil
}

func (w *LocalWorkspace) ListDirectory(p string) ([]DirEntry, error) {
	entries, err := os.ReadDir(w.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("list_dir: %w", err)
	}

	var result []DirEntry
	for _, entry := range entries {
		de := DirEntry{
			Name:  entry.Name(),
			IsDir: entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	return result, nil
}

func (w *LocalWorkspace) Glob(pattern string, p string) ([]string, error) {
	base := w.root
	if p != "" {
		base = w.resolve(p)
	}

	matches, err := filepath.Glob(filepath.Join(base, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}

	result := make([]string, len(matches))
	for i, m := range matches {
		rel, err := filepath.Rel(w.root, m)
		if err != nil {
			result[i] = m
		} else {
			result[i] = rel
		}
	}
	return result, nil
}
