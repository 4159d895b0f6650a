package natshandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeexec/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	ExecuteSubject = "compiler.execute.request"
	queueGroup     = "codeexec"
)

// Dispatcher is the part of the compiler service the handler needs.
type Dispatcher interface {
	Execute(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
}

type Handler struct {
	svc     Dispatcher
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandler builds a handler; timeout caps how long one request may take
// end to end, zero means no cap.
func NewHandler(svc Dispatcher, logger *zap.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, timeout: timeout}
}

// Subscribe joins the execute subject as part of a queue group so several
// engine instances share the load.
func Subscribe(nc *nats.Conn, h *Handler) (*nats.Subscription, error) {
	return nc.QueueSubscribe(ExecuteSubject, queueGroup, func(msg *nats.Msg) {
		// callbacks on one subscription are serialized, so each request
		// gets its own goroutine
		go h.HandleCompilerRequest(nc, msg)
	})
}

func (h *Handler) HandleCompilerRequest(nc *nats.Conn, msg *nats.Msg) {
	resData := h.Handle(context.Background(), msg.Data)
	if msg.Reply == "" {
		h.logger.Warn("execution request without reply subject", zap.String("subject", msg.Subject))
		return
	}
	if err := nc.Publish(msg.Reply, resData); err != nil {
		h.logger.Error("Failed to publish execution result", zap.Error(err))
	}
}

// Handle decodes one request payload and returns the encoded result.
func (h *Handler) Handle(ctx context.Context, data []byte) []byte {
	var req model.ExecutionRequest
	var res model.ExecutionResult
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("Failed to parse execution request", zap.Error(err))
		res = model.Failed(model.StatusEnvironmentError, fmt.Sprintf("Invalid request payload: %v", err), 0)
	} else {
		if h.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.timeout)
			defer cancel()
		}
		res = h.svc.Execute(ctx, req)
	}

	resData, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("Failed to encode execution result", zap.Error(err))
		return []byte(`{"error":"internal encoding failure","execution_time":0,"status":"environment_error"}`)
	}
	return resData
}
