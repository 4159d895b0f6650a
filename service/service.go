package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codeexec/executor"
	"codeexec/internal"
	"codeexec/lang"
	"codeexec/metrics"
	"codeexec/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const NoCodeMessage = "No code provided"

// Executor runs a resolved toolchain. *executor.Pipeline and
// *executor.WorkerPool both satisfy it.
type Executor interface {
	Execute(ctx context.Context, d lang.Descriptor, code string) (model.ExecutionResult, error)
}

// Recorder receives every finished execution, e.g. for user history.
type Recorder interface {
	Record(model.ExecutionLog)
}

type Options struct {
	MaxCodeLength int
	Recorder      Recorder
	Logger        *zap.Logger
}

// CompilerService validates requests and turns every outcome, including
// internal failures, into a well-formed ExecutionResult.
type CompilerService struct {
	registry      *lang.Registry
	executor      Executor
	recorder      Recorder
	maxCodeLength int
	logger        *zap.Logger
}

func NewCompilerService(registry *lang.Registry, exec Executor, opts Options) *CompilerService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CompilerService{
		registry:      registry,
		executor:      exec,
		recorder:      opts.Recorder,
		maxCodeLength: opts.MaxCodeLength,
		logger:        opts.Logger,
	}
}

// Languages lists the registered toolchains.
func (s *CompilerService) Languages() []model.LanguageInfo {
	return s.registry.List()
}

// Execute runs one request. It never returns an error and never panics.
func (s *CompilerService) Execute(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	requestID := uuid.NewString()
	res := s.execute(ctx, req, requestID)

	metrics.ExecutionsTotal.WithLabelValues(res.Language, string(res.Status)).Inc()
	if s.recorder != nil {
		s.recorder.Record(model.ExecutionLog{
			RequestID: requestID,
			UserID:    req.UserID,
			IP:        req.IP,
			Language:  res.Language,
			Code:      req.Code,
			Result:    res,
		})
	}
	return res
}

func (s *CompilerService) execute(ctx context.Context, req model.ExecutionRequest, requestID string) (res model.ExecutionResult) {
	log := s.logger.With(zap.String("request_id", requestID))
	d, language := s.registry.Resolve(req.Language)

	defer func() {
		if r := recover(); r != nil {
			log.Error("execution panicked", zap.Any("panic", r), zap.String("language", string(language)))
			res = model.Failed(model.StatusEnvironmentError, fmt.Sprintf("Internal error: %v", r), 0)
		}
		res.Language = string(language)
	}()

	if strings.TrimSpace(req.Code) == "" {
		return model.Failed(model.StatusEmptyInput, NoCodeMessage, 0)
	}
	if language != lang.Language(strings.ToLower(strings.TrimSpace(req.Language))) {
		log.Debug("unknown language, using default",
			zap.String("requested", req.Language),
			zap.String("language", string(language)))
	}

	if err := internal.SanitizeCode(req.Code, d.Denylist, s.maxCodeLength); err != nil {
		var se *internal.SanitizationError
		errors.As(err, &se)
		log.Info("submission refused", zap.String("language", string(language)), zap.Error(err))
		if errors.Is(err, internal.ErrCodeTooLong) {
			return model.Failed(model.StatusInputTooLarge, se.Error(), 0)
		}
		return model.Failed(model.StatusDangerousCode, se.Message, 0)
	}

	result, err := s.executor.Execute(ctx, d, req.Code)
	if err != nil {
		log.Error("execution failed", zap.String("language", string(language)), zap.Error(err))
		return model.Failed(model.StatusEnvironmentError, describe(err), 0)
	}
	return result
}

func describe(err error) string {
	switch {
	case errors.Is(err, executor.ErrQueueFull):
		return "Server busy: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Execution cancelled: " + err.Error()
	default:
		return "Execution environment error: " + err.Error()
	}
}
