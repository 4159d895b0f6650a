package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codeexec/config"
	"codeexec/executor"
	"codeexec/lang"
	"codeexec/logger"
	"codeexec/natshandler"
	"codeexec/routes"
	"codeexec/service"
	"codeexec/workspace"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	zlog, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: logger.FormatFor(cfg.Environment)})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()
	execLog := logger.NewLogrus(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := loadRegistry(cfg)
	if err != nil {
		zlog.Fatal("Failed to load toolchains", zap.Error(err))
	}

	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		zlog.Fatal("Failed to prepare workspace root", zap.Error(err))
	}
	sweep(workspaces, cfg.WorkspaceMaxAge, zlog)
	go sweepPeriodically(ctx, workspaces, cfg.WorkspaceMaxAge, zlog)

	history := logger.NewExecutionLogStreamer(cfg.BetterStackSourceToken, cfg.Environment,
		cfg.BetterStackUploadURL, cfg.ExecutionLogPath, zlog)
	defer history.Close()

	var runner executor.Runner = executor.NewHostRunner(execLog)
	if cfg.SandboxMode == "docker" {
		// Check if the worker image exists
		if !checkIfDockerImageExists(cfg.SandboxImage) {
			zlog.Fatal("Worker Docker image not found. Exiting...", zap.String("image", cfg.SandboxImage))
		}
		containers, err := executor.NewContainerManager(executor.ContainerConfig{
			Image:    cfg.SandboxImage,
			Workers:  cfg.MaxWorkers,
			MemoryMB: int64(cfg.SandboxMemoryMB),
			NanoCPUs: int64(cfg.SandboxCPUs * 1e9),
			MountDir: workspaces.Root(),
		}, execLog)
		if err != nil {
			zlog.Fatal("Failed to create container manager", zap.Error(err))
		}
		if err := containers.InitializePool(ctx); err != nil {
			zlog.Fatal("Failed to initialize container pool", zap.Error(err))
		}
		defer containers.Shutdown(context.Background())
		go containers.MonitorContainers(ctx, 5*time.Second)
		runner = executor.NewContainerRunner(containers, runner)
	}

	pipeline := executor.NewPipeline(runner, workspaces, execLog)
	// Initialize worker pool
	workerPool := executor.NewWorkerPool(pipeline, cfg.MaxWorkers, cfg.JobCount, execLog)
	defer workerPool.Shutdown()

	compilerService := service.NewCompilerService(registry, workerPool, service.Options{
		MaxCodeLength: cfg.MaxCodeLength,
		Recorder:      history,
		Logger:        zlog,
	})

	if cfg.EnableNATS {
		// Connect to NATS
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			zlog.Fatal("Failed to connect to NATS",
				zap.String("url", cfg.NatsURL),
				zap.Error(err))
		}
		defer nc.Drain()

		handler := natshandler.NewHandler(compilerService, zlog, 2*time.Minute)
		if _, err := natshandler.Subscribe(nc, handler); err != nil {
			zlog.Fatal("Failed to subscribe", zap.String("subject", natshandler.ExecuteSubject), zap.Error(err))
		}
		zlog.Info("Listening on NATS", zap.String("subject", natshandler.ExecuteSubject))
	}

	var srv *http.Server
	if cfg.EnableHTTP {
		if cfg.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		r := gin.New()
		r.Use(gin.Recovery())
		routes.SetupRoutes(r, compilerService)

		srv = &http.Server{Addr: ":" + cfg.Port, Handler: r}
		go func() {
			zlog.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zlog.Fatal("HTTP server failed", zap.Error(err))
			}
		}()
	}

	zlog.Info("Code execution engine started",
		zap.Int("languages", len(registry.List())),
		zap.String("default", string(registry.Fallback())),
		zap.String("sandbox", cfg.SandboxMode))

	// Keep the service running
	<-ctx.Done()
	zlog.Info("Shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zlog.Warn("HTTP shutdown", zap.Error(err))
		}
	}
}

func loadRegistry(cfg config.Config) (*lang.Registry, error) {
	if cfg.ToolchainFile != "" {
		return lang.LoadFile(cfg.ToolchainFile, cfg.DefaultLanguage)
	}
	return lang.Default(cfg.DefaultLanguage)
}

func sweepPeriodically(ctx context.Context, workspaces *workspace.Manager, maxAge time.Duration, zlog *zap.Logger) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(workspaces, maxAge, zlog)
		}
	}
}

func sweep(workspaces *workspace.Manager, maxAge time.Duration, zlog *zap.Logger) {
	n, err := workspaces.Sweep(maxAge)
	if n > 0 {
		zlog.Info("Removed stale workspaces", zap.Int("count", n))
	}
	if err != nil {
		zlog.Warn("Failed to sweep stale workspaces", zap.Error(err))
	}
}

// checkIfDockerImageExists checks if a Docker image exists locally
func checkIfDockerImageExists(imageName string) bool {
	cmd := exec.Command("docker", "images", "-q", imageName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Println("Error checking Docker image:", err)
		return false
	}
	return strings.TrimSpace(string(output)) != ""
}
