package workspace

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"codeexec/lang"
)

func mustRegistry(t *testing.T) *lang.Registry {
	t.Helper()
	r, err := lang.Default("python")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return r
}

func TestAcquireWritesSourceFile(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, _ := mustRegistry(t).Resolve("python")

	ws, err := m.Acquire(d, "print('hi')")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ws.Release()

	if filepath.Dir(ws.Dir) != m.Root() {
		t.Fatalf("workspace %q not under root %q", ws.Dir, m.Root())
	}
	if !strings.HasPrefix(filepath.Base(ws.Dir), "python-") {
		t.Fatalf("workspace name %q lacks language prefix", ws.Dir)
	}
	if filepath.Base(ws.Source) != "main.py" {
		t.Fatalf("source = %q", ws.Source)
	}
	data, err := os.ReadFile(ws.Source)
	if err != nil || string(data) != "print('hi')" {
		t.Fatalf("source content = %q, %v", data, err)
	}
	if m.Active() != 1 {
		t.Fatalf("Active = %d", m.Active())
	}
}

func TestAcquireJavaUsesDerivedName(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d, _ := mustRegistry(t).Resolve("java")

	ws, err := m.Acquire(d, "public class Greeter {\n  public static void main(String[] a) {}\n}\n")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ws.Release()

	if ws.Name != "Greeter" || filepath.Base(ws.Source) != "Greeter.java" {
		t.Fatalf("name = %q source = %q", ws.Name, ws.Source)
	}
	argv, err := d.Run.Argv(ws.Vars())
	if err != nil {
		t.Fatal(err)
	}
	if argv[len(argv)-1] != "Greeter" {
		t.Fatalf("run argv = %q", argv)
	}
}

func TestAcquireRustProject(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d, _ := mustRegistry(t).Resolve("rust")

	ws, err := m.Acquire(d, "fn main() { println!(\"hi\"); }")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ws.Release()

	if _, err := os.Stat(filepath.Join(ws.Dir, "Cargo.toml")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	if ws.Source != filepath.Join(ws.Dir, "src", "main.rs") {
		t.Fatalf("source = %q", ws.Source)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d, _ := mustRegistry(t).Resolve("c")
	ws, err := m.Acquire(d, "int main(){}")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := ws.Release(); err != nil {
			t.Fatalf("Release #%d: %v", i, err)
		}
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
	if m.Active() != 0 {
		t.Fatalf("Active = %d after release", m.Active())
	}
}

// lockDown does what a hostile submission can do to its own workspace: a
// subtree with every permission bit cleared and a read-only top directory.
func lockDown(t *testing.T, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits do not restrict this user")
	}
	locked := filepath.Join(dir, "d")
	if err := os.Mkdir(locked, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(locked, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
}

func TestReleaseRemovesLockedDownTree(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d, _ := mustRegistry(t).Resolve("c")
	ws, err := m.Acquire(d, "int main(){}")
	if err != nil {
		t.Fatal(err)
	}
	lockDown(t, ws.Dir)

	if err := ws.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
	if m.Active() != 0 {
		t.Fatalf("Active = %d after release", m.Active())
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if m.Active() != 0 {
		t.Fatalf("Active = %d after second release", m.Active())
	}
}

func TestSweepRemovesLockedDownDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m, err := NewManager(root)
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	var stale []string
	for _, name := range []string{"c-a", "c-b", "c-c"} {
		dir := filepath.Join(root, name)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		lockDown(t, dir)
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
		stale = append(stale, dir)
	}

	n, err := m.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != len(stale) {
		t.Fatalf("Sweep removed %d, want %d", n, len(stale))
	}
	for _, dir := range stale {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("%s still present: %v", dir, err)
		}
	}
}

func TestConcurrentAcquireIsCollisionFree(t *testing.T) {
	t.Parallel()

	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d, _ := mustRegistry(t).Resolve("python")

	const n = 64
	var (
		mu   sync.Mutex
		dirs = make(map[string]bool, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := m.Acquire(d, "pass")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			dirs[ws.Dir] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(dirs) != n {
		t.Fatalf("got %d distinct workspaces, want %d", len(dirs), n)
	}
}

func TestSweepRemovesStaleDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	m, err := NewManager(root)
	if err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(root, "python-stale")
	if err := os.Mkdir(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(root, "python-fresh")
	if err := os.Mkdir(fresh, 0o755); err != nil {
		t.Fatal(err)
	}

	n, err := m.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh workspace removed: %v", err)
	}
}

func TestDeriveName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, src, want string
	}{
		{"simple", "public class Hello {", "Hello"},
		{"brace attached", "public class Hello{ }", "Hello"},
		{"generic", "public class Box<T> {}", "Box"},
		{"missing", "class Hidden {}", "Main"},
		{"invalid token", "public class 9lives {}", "Main"},
		{"keyword at end", "public class", "Main"},
		{"first wins", "// public class Comment\npublic class Real {}", "Comment"},
	}
	for _, tt := range tests {
		if got := DeriveName(tt.src, "public class", "Main"); got != tt.want {
			t.Errorf("%s: DeriveName = %q, want %q", tt.name, got, tt.want)
		}
	}
}
