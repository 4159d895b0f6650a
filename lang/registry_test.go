package lang

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultRegistryHasEveryLanguage(t *testing.T) {
	t.Parallel()

	r, err := Default("python")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, id := range []Language{Python, C, CPP, Java, Kotlin, JavaScript, Rust, SQL, Text} {
		if _, ok := r.Lookup(string(id)); !ok {
			t.Errorf("language %q not registered", id)
		}
	}
	if got := len(r.List()); got != 9 {
		t.Fatalf("List returned %d languages, want 9", got)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r, err := Default("python")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	tests := []struct {
		in   string
		want Language
	}{
		{"cpp", CPP},
		{"  JAVA ", Java},
		{"brainfuck", Python},
		{"", Python},
	}
	for _, tt := range tests {
		d, id := r.Resolve(tt.in)
		if id != tt.want || d.ID != tt.want {
			t.Errorf("Resolve(%q) = %q/%q, want %q", tt.in, id, d.ID, tt.want)
		}
	}
}

func TestTimeouts(t *testing.T) {
	t.Parallel()

	r, err := Default("python")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	cpp, _ := r.Lookup("cpp")
	if len(cpp.Compile) != 1 || cpp.Compile[0].Timeout != 10*time.Second {
		t.Fatalf("cpp compile step = %+v", cpp.Compile)
	}
	if cpp.Run.Timeout != 5*time.Second {
		t.Fatalf("cpp run timeout = %v", cpp.Run.Timeout)
	}
	kt, _ := r.Lookup("kotlin")
	if kt.Compile[0].Timeout != 15*time.Second {
		t.Fatalf("kotlin compile timeout = %v", kt.Compile[0].Timeout)
	}
	rs, _ := r.Lookup("rust")
	if rs.TreatsStderrAsError() {
		t.Fatal("rust should only fail on exit status")
	}
	if len(rs.Compile) != 1 || rs.Compile[0].Timeout != 15*time.Second || rs.Run.Timeout != 5*time.Second {
		t.Fatalf("rust steps = %+v / %+v", rs.Compile, rs.Run)
	}
	if argv, _ := rs.Compile[0].Argv(Vars{Dir: "/ws"}); len(argv) < 2 || argv[1] != "build" {
		t.Fatalf("rust compile argv = %v", argv)
	}
	if rs.Layout != LayoutProject || rs.Manifest == nil {
		t.Fatalf("rust layout = %q manifest = %v", rs.Layout, rs.Manifest)
	}
	py, _ := r.Lookup("python")
	if !py.TreatsStderrAsError() || len(py.Denylist) == 0 {
		t.Fatalf("python descriptor = %+v", py)
	}
}

func TestDescriptorsAreCopiedOnRead(t *testing.T) {
	t.Parallel()

	r, err := Default("python")
	if err != nil {
		t.Fatal(err)
	}
	py, _ := r.Resolve("python")
	py.Denylist[0] = "tampered"
	py.Denylist = append(py.Denylist, "more")

	rs, _ := r.Lookup("rust")
	rs.Compile[0].Command = "rm -rf {dir}"
	rs.Manifest.Content = "tampered"
	*rs.StderrIsError = true

	fallback, _ := r.Resolve("cobol")
	if fallback.Denylist[0] == "tampered" {
		t.Fatal("fallback descriptor shares its denylist with a caller")
	}
	again, _ := r.Lookup("rust")
	if again.Compile[0].Command == "rm -rf {dir}" || again.Manifest.Content == "tampered" || again.TreatsStderrAsError() {
		t.Fatalf("registry descriptor was modified through a copy: %+v", again)
	}
}

func TestStepArgv(t *testing.T) {
	t.Parallel()

	step := Step{Command: `javac -d {dir} "{source}" -cp {dir}/lib`}
	argv, err := step.Argv(Vars{Dir: "/w/java-1", Source: "/w/java-1/Hello World.java", Name: "Hello"})
	if err != nil {
		t.Fatalf("Argv: %v", err)
	}
	want := []string{"javac", "-d", "/w/java-1", "/w/java-1/Hello World.java", "-cp", "/w/java-1/lib"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %q, want %q", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}

	if _, err := (Step{Command: "   "}).Argv(Vars{}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("empty command error = %v", err)
	}
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown kind": `
languages:
  - id: x
    source: main.x
    kind: magic
`,
		"missing run timeout": `
languages:
  - id: x
    source: main.x
    kind: process
    run: {command: x}
`,
		"duplicate": `
languages:
  - {id: t, source: a, kind: passthrough}
  - {id: T, source: b, kind: passthrough}
`,
		"project without manifest": `
languages:
  - {id: t, source: a, kind: passthrough, layout: project}
`,
		"fallback missing": `
languages:
  - {id: t, source: a, kind: passthrough}
`,
	}
	for name, doc := range tests {
		name, doc := name, doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load([]byte(doc), "python"); !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("Load error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}

	if _, err := Load([]byte("languages: [:"), "python"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFileOverridesEmbedded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "toolchains.yaml")
	doc := `
languages:
  - id: shell
    name: Shell
    extension: sh
    kind: process
    source: main.sh
    run:
      command: sh {source}
      timeout: 2s
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := LoadFile(path, "shell")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if r.Fallback() != "shell" {
		t.Fatalf("fallback = %q", r.Fallback())
	}
	d, id := r.Resolve("python")
	if id != "shell" || d.Run.Timeout != 2*time.Second {
		t.Fatalf("Resolve(python) = %q %+v", id, d.Run)
	}
}
