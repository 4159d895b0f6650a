package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeexec/lang"
	"codeexec/metrics"
	"codeexec/model"
	"codeexec/workspace"

	logrus "github.com/sirupsen/logrus"
)

const (
	CompileErrorPrefix = "Compilation Error:\n"
	TimeoutMessage     = "Code execution timed out"
	EmptyTextOutput    = "(Empty text document)"
)

// Pipeline drives one submission through its compile and run phases.
type Pipeline struct {
	runner     Runner
	workspaces *workspace.Manager
	logger     *logrus.Logger
}

func NewPipeline(runner Runner, workspaces *workspace.Manager, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{runner: runner, workspaces: workspaces, logger: logger}
}

// Execute runs source with the toolchain d. Program failures (compile errors,
// runtime errors, timeouts) are reported in the result; the returned error is
// reserved for failures of the host, such as a missing compiler binary.
func (p *Pipeline) Execute(ctx context.Context, d lang.Descriptor, source string) (model.ExecutionResult, error) {
	if d.Kind == lang.KindPassthrough {
		return passthrough(source), nil
	}

	ws, err := p.workspaces.Acquire(d, source)
	if err != nil {
		return model.ExecutionResult{}, environmentError("acquire workspace", err)
	}
	metrics.ActiveWorkspaces.Inc()
	defer func() {
		metrics.ActiveWorkspaces.Dec()
		if err := ws.Release(); err != nil {
			p.logger.WithFields(logrus.Fields{
				"workspace": ws.Dir,
				"error":     err,
			}).Warn("Failed to release workspace")
		}
	}()

	log := p.logger.WithFields(logrus.Fields{
		"language":  d.ID,
		"workspace": ws.Dir,
	})

	if d.Kind == lang.KindQuery {
		return p.query(ctx, d, ws, source, log)
	}

	var compileWall time.Duration
	for i, step := range d.Compile {
		out, err := p.phase(ctx, step, ws)
		metrics.PhaseDuration.WithLabelValues(string(d.ID), "compile").Observe(out.Wall.Seconds())
		if err != nil {
			log.WithField("step", i).WithError(err).Warn("Compile phase did not finish")
			return finish(err, step.Timeout)
		}
		compileWall += out.Wall
		if out.ExitCode != 0 {
			log.WithFields(logrus.Fields{"step": i, "exitCode": out.ExitCode}).Debug("Compile failed")
			msg := out.Stderr
			if strings.TrimSpace(msg) == "" {
				msg = out.Stdout
			}
			return model.Failed(model.StatusCompileError, CompileErrorPrefix+msg, compileWall.Seconds()), nil
		}
	}

	out, err := p.phase(ctx, d.Run, ws)
	metrics.PhaseDuration.WithLabelValues(string(d.ID), "run").Observe(out.Wall.Seconds())
	if err != nil {
		log.WithError(err).Warn("Run phase did not finish")
		return finish(err, d.Run.Timeout)
	}

	var res model.ExecutionResult
	if out.ExitCode != 0 || (d.TreatsStderrAsError() && out.Stderr != "") {
		msg := out.Stderr
		if strings.TrimSpace(msg) == "" {
			msg = fmt.Sprintf("Process exited with status %d", out.ExitCode)
		}
		res = model.Failed(model.StatusRuntimeError, d.RunErrorPrefix+msg, out.Wall.Seconds())
	} else {
		res = model.Succeeded(out.Stdout, out.Wall.Seconds())
	}
	if out.HasUsage {
		cpu := out.CPU.Seconds()
		mem := out.MemoryKB
		res.CPUTime = &cpu
		res.MemoryUsed = &mem
		metrics.MemoryUsage.WithLabelValues(string(d.ID)).Observe(float64(mem))
	}

	log.WithFields(logrus.Fields{
		"status":   res.Status,
		"exitCode": out.ExitCode,
		"duration": out.Wall,
	}).Debug("Execution completed")
	return res, nil
}

func (p *Pipeline) phase(ctx context.Context, step lang.Step, ws *workspace.Workspace) (Outcome, error) {
	argv, err := step.Argv(ws.Vars())
	if err != nil {
		return Outcome{}, environmentError("expand command", err)
	}
	return p.runner.Run(ctx, Command{
		Path:    argv[0],
		Args:    argv[1:],
		Dir:     ws.Dir,
		Timeout: step.Timeout,
	})
}

func (p *Pipeline) query(ctx context.Context, d lang.Descriptor, ws *workspace.Workspace, script string, log *logrus.Entry) (model.ExecutionResult, error) {
	start := time.Now()
	report, err := RunQueries(ctx, ws.Dir, script, d.Run.Timeout)
	elapsed := time.Since(start)
	metrics.PhaseDuration.WithLabelValues(string(d.ID), "query").Observe(elapsed.Seconds())
	if err != nil {
		log.WithError(err).Warn("Query batch did not finish")
		return finish(err, d.Run.Timeout)
	}
	return model.Succeeded(report, elapsed.Seconds()), nil
}

// finish turns a runner error into a timeout result or hands it back.
func finish(err error, bound time.Duration) (model.ExecutionResult, error) {
	if errors.Is(err, ErrTimeout) {
		return model.Failed(model.StatusTimeout, TimeoutMessage, bound.Seconds()), nil
	}
	return model.ExecutionResult{}, err
}

func passthrough(text string) model.ExecutionResult {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		text = EmptyTextOutput
	}
	return model.Succeeded(text, time.Since(start).Seconds())
}
