package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"codeexec/lang"

	"github.com/google/uuid"
)

// Workspace is a private directory holding one submission.
type Workspace struct {
	Language lang.Language
	Dir      string
	Source   string
	Name     string

	mu       sync.Mutex
	released bool
	manager  *Manager
}

// Vars returns the placeholder values for step commands.
func (w *Workspace) Vars() lang.Vars {
	return lang.Vars{Dir: w.Dir, Source: w.Source, Name: w.Name}
}

// Manager creates and removes workspaces under a single root directory.
type Manager struct {
	root   string
	active atomic.Int64
}

// NewManager ensures root exists. An empty root uses the system temp dir.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "codeexec")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) Root() string { return m.root }

// Active returns the number of acquired but unreleased workspaces.
func (m *Manager) Active() int64 { return m.active.Load() }

// Acquire creates a fresh directory for language and writes the source into it
// following the descriptor's naming rule.
func (m *Manager) Acquire(d lang.Descriptor, source string) (*Workspace, error) {
	dir := filepath.Join(m.root, fmt.Sprintf("%s-%s", d.ID, uuid.NewString()))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	m.active.Add(1)

	ws := &Workspace{Language: d.ID, Dir: dir, manager: m}
	if d.Declaration != "" || d.DefaultName != "" {
		ws.Name = DeriveName(source, d.Declaration, d.DefaultName)
	}
	ws.Source = filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(d.Source, "{name}", ws.Name)))

	if err := ws.populate(d, source); err != nil {
		ws.Release()
		return nil, err
	}
	return ws, nil
}

func (w *Workspace) populate(d lang.Descriptor, source string) error {
	if d.Layout == lang.LayoutProject && d.Manifest != nil {
		manifest := filepath.Join(w.Dir, filepath.FromSlash(d.Manifest.Path))
		if err := writeFile(manifest, d.Manifest.Content); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if err := writeFile(w.Source, source); err != nil {
		return fmt.Errorf("write source: %w", err)
	}
	return nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Release removes the workspace tree. Once a removal has succeeded further
// calls do nothing; a failed removal is retried on the next call.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return nil
	}
	if err := removeTree(w.Dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	w.released = true
	w.manager.active.Add(-1)
	return nil
}

// removeTree deletes dir even when the program inside revoked permissions on
// its own subdirectories.
func removeTree(dir string) error {
	err := os.RemoveAll(dir)
	if err == nil {
		return nil
	}
	// directories are chmodded before WalkDir reads them
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, werr error) error {
		if werr == nil && d.IsDir() {
			os.Chmod(path, 0o700)
		}
		return nil
	})
	if retry := os.RemoveAll(dir); retry != nil {
		return errors.Join(err, retry)
	}
	return nil
}

// Sweep removes workspace directories older than maxAge, returning how many
// were deleted. It only touches direct children of the root. A directory that
// cannot be removed does not stop the sweep; the failures are joined into the
// returned error.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := removeTree(filepath.Join(m.root, e.Name())); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", e.Name(), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// DeriveName finds the identifier following keyword in source. It is a plain
// substring scan; the first occurrence wins, even inside comments or strings.
// Anything that is not a valid identifier yields fallback.
func DeriveName(source, keyword, fallback string) string {
	if keyword == "" {
		return fallback
	}
	idx := strings.Index(source, keyword)
	if idx < 0 {
		return fallback
	}
	fields := strings.Fields(source[idx+len(keyword):])
	if len(fields) == 0 {
		return fallback
	}
	name := fields[0]
	if i := strings.IndexAny(name, "{<("); i >= 0 {
		name = name[:i]
	}
	if !isIdentifier(name) {
		return fallback
	}
	return name
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}
