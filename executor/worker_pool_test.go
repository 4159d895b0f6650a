package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codeexec/lang"
	"codeexec/model"
	"codeexec/workspace"
)

// blockingRunner holds every Run until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	r.started <- struct{}{}
	select {
	case <-r.release:
		return Outcome{Stdout: "done"}, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, Command) (Outcome, error) { panic("boom") }

func poolFixture(t *testing.T, runner Runner, workers, queue int) *WorkerPool {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(NewPipeline(runner, m, quietLogger()), workers, queue, quietLogger())
	t.Cleanup(pool.Shutdown)
	return pool
}

var echoDescriptor = lang.Descriptor{
	ID:     "echo",
	Kind:   lang.KindProcess,
	Layout: lang.LayoutFile,
	Source: "main.txt",
	Run:    lang.Step{Command: "cat {source}", Timeout: time.Second},
}

func TestWorkerPoolRunsJobs(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
	close(runner.release)
	pool := poolFixture(t, runner, 2, 4)

	res := pool.ExecuteJob(context.Background(), echoDescriptor, "x")
	if res.Error != nil {
		t.Fatalf("ExecuteJob: %v", res.Error)
	}
	if res.Execution.Status != model.StatusSuccess || res.Execution.OutputText() != "done" {
		t.Fatalf("result = %+v", res.Execution)
	}
}

func TestWorkerPoolRejectsWhenFull(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
	pool := poolFixture(t, runner, 1, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.ExecuteJob(context.Background(), echoDescriptor, "first")
	}()
	<-runner.started

	// the single worker is busy; this one waits in the queue
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.ExecuteJob(context.Background(), echoDescriptor, "queued")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(pool.jobs) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	res := pool.ExecuteJob(context.Background(), echoDescriptor, "overflow")
	if !errors.Is(res.Error, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", res.Error)
	}

	close(runner.release)
	wg.Wait()
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	pool := poolFixture(t, panicRunner{}, 1, 1)
	res := pool.ExecuteJob(context.Background(), echoDescriptor, "x")
	if !errors.Is(res.Error, ErrEnvironment) {
		t.Fatalf("err = %v, want ErrEnvironment", res.Error)
	}
	// the worker survives
	res = pool.ExecuteJob(context.Background(), echoDescriptor, "y")
	if !errors.Is(res.Error, ErrEnvironment) {
		t.Fatalf("second err = %v", res.Error)
	}
}

func TestWorkerPoolAfterShutdown(t *testing.T) {
	t.Parallel()

	pool := poolFixture(t, panicRunner{}, 1, 1)
	pool.Shutdown()
	res := pool.ExecuteJob(context.Background(), echoDescriptor, "x")
	if !errors.Is(res.Error, ErrEnvironment) {
		t.Fatalf("err = %v", res.Error)
	}
}
