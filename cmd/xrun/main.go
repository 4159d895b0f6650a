package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"codeexec/config"
	"codeexec/executor"
	"codeexec/lang"
	"codeexec/model"
	"codeexec/service"
	"codeexec/workspace"

	"github.com/fatih/color"
	logrus "github.com/sirupsen/logrus"
)

const usage = `Usage: xrun <command>

Commands:
  run <language> <file|->   execute a source file (- reads stdin)
  languages                 list registered languages
  check                     report which toolchain binaries are installed
  prune [max-age]           remove stale workspaces (default 1h)
  prune containers          remove sandbox containers left by the engine
`

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg := config.LoadConfig()

	switch args[0] {
	case "run":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: xrun run <language> <file|->")
			return 2
		}
		return runFile(cfg, args[1], args[2], stdin, stdout, stderr)
	case "languages":
		reg, err := registry(cfg)
		if err != nil {
			failColor.Fprintln(stderr, err)
			return 1
		}
		for _, l := range reg.List() {
			fmt.Fprintf(stdout, "%-12s %-12s .%s\n", l.ID, l.Name, l.Extension)
		}
		return 0
	case "check":
		reg, err := registry(cfg)
		if err != nil {
			failColor.Fprintln(stderr, err)
			return 1
		}
		return check(reg, stdout)
	case "prune":
		if len(args) > 1 && args[1] == "containers" {
			return pruneContainers(stdout, stderr)
		}
		maxAge := time.Hour
		if len(args) > 1 {
			d, err := time.ParseDuration(args[1])
			if err != nil {
				failColor.Fprintf(stderr, "invalid max age %q: %v\n", args[1], err)
				return 2
			}
			maxAge = d
		}
		return prune(cfg.WorkspaceRoot, maxAge, stdout, stderr)
	default:
		fmt.Fprintln(stderr, "Unknown command.")
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func registry(cfg config.Config) (*lang.Registry, error) {
	if cfg.ToolchainFile != "" {
		return lang.LoadFile(cfg.ToolchainFile, cfg.DefaultLanguage)
	}
	return lang.Default(cfg.DefaultLanguage)
}

func runFile(cfg config.Config, language, path string, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		src []byte
		err error
	)
	if path == "-" {
		src, err = io.ReadAll(stdin)
	} else {
		src, err = os.ReadFile(path)
	}
	if err != nil {
		failColor.Fprintf(stderr, "read source: %v\n", err)
		return 1
	}

	reg, err := registry(cfg)
	if err != nil {
		failColor.Fprintln(stderr, err)
		return 1
	}
	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		failColor.Fprintln(stderr, err)
		return 1
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	svc := service.NewCompilerService(reg,
		executor.NewPipeline(executor.NewHostRunner(quiet), workspaces, quiet),
		service.Options{MaxCodeLength: cfg.MaxCodeLength})

	res := svc.Execute(context.Background(), model.ExecutionRequest{Code: string(src), Language: language})
	return report(res, stdout, stderr)
}

func report(res model.ExecutionResult, stdout, stderr io.Writer) int {
	if res.Output != nil {
		fmt.Fprint(stdout, *res.Output)
	}
	if res.Error != nil {
		failColor.Fprintln(stderr, strings.TrimRight(*res.Error, "\n"))
	}

	summary := fmt.Sprintf("[%s %s %.3fs", res.Language, res.Status, res.ExecutionTime)
	if res.CPUTime != nil {
		summary += fmt.Sprintf(" cpu %.3fs", *res.CPUTime)
	}
	if res.MemoryUsed != nil {
		summary += fmt.Sprintf(" mem %dKB", *res.MemoryUsed)
	}
	dimColor.Fprintln(stderr, summary+"]")

	if res.Status != model.StatusSuccess {
		return 1
	}
	return 0
}

// toolchainBinaries lists the executables each language needs on PATH.
// Commands that start with a workspace path are build outputs, not tools.
func toolchainBinaries(d lang.Descriptor) []string {
	if d.Kind != lang.KindProcess {
		return nil
	}
	vars := lang.Vars{Dir: "/ws", Source: "/ws/src", Name: "Main"}
	steps := append(append([]lang.Step{}, d.Compile...), d.Run)

	var bins []string
	seen := map[string]bool{}
	for _, s := range steps {
		argv, err := s.Argv(vars)
		if err != nil || len(argv) == 0 || strings.ContainsAny(argv[0], `/\`) {
			continue
		}
		if !seen[argv[0]] {
			seen[argv[0]] = true
			bins = append(bins, argv[0])
		}
	}
	return bins
}

func check(reg *lang.Registry, stdout io.Writer) int {
	missing := 0
	for _, info := range reg.List() {
		d, _ := reg.Lookup(info.ID)
		bins := toolchainBinaries(d)
		if len(bins) == 0 {
			okColor.Fprintf(stdout, "%-12s built in\n", info.ID)
			continue
		}
		var absent []string
		for _, b := range bins {
			if _, err := exec.LookPath(b); err != nil {
				absent = append(absent, b)
			}
		}
		if len(absent) == 0 {
			okColor.Fprintf(stdout, "%-12s ok (%s)\n", info.ID, strings.Join(bins, ", "))
			continue
		}
		missing++
		failColor.Fprintf(stdout, "%-12s missing %s\n", info.ID, strings.Join(absent, ", "))
	}
	if missing > 0 {
		return 1
	}
	return 0
}

func prune(root string, maxAge time.Duration, stdout, stderr io.Writer) int {
	workspaces, err := workspace.NewManager(root)
	if err != nil {
		failColor.Fprintln(stderr, err)
		return 1
	}
	n, err := workspaces.Sweep(maxAge)
	okColor.Fprintf(stdout, "removed %d stale workspaces from %s\n", n, workspaces.Root())
	if err != nil {
		failColor.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func pruneContainers(stdout, stderr io.Writer) int {
	out, err := exec.Command("docker", "ps", "-aq", "--filter", "label=codeexec.pool=true").Output()
	if err != nil {
		failColor.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		fmt.Fprintln(stdout, "no sandbox containers found")
		return 0
	}
	if err := runCommand(stdout, stderr, "docker", append([]string{"rm", "-f"}, ids...)...); err != nil {
		return 1
	}
	okColor.Fprintf(stdout, "removed %d sandbox containers\n", len(ids))
	return 0
}

func runCommand(stdout, stderr io.Writer, command string, args ...string) error {
	cmd := exec.Command(command, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		failColor.Fprintf(stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
