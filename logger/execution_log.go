package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"codeexec/model"

	"go.uber.org/zap"
)

// logEntry is one execution record as shipped to the log sink
type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	model.ExecutionLog
}

// ExecutionLogStreamer records every execution result. In development the
// records go to a local JSON-lines file, otherwise they are posted to the
// ingest endpoint when one is configured.
type ExecutionLogStreamer struct {
	sourceToken string
	environment string
	uploadURL   string
	logger      *zap.Logger
	client      *http.Client
	fileWriter  io.Writer
	file        *os.File
	fileMu      sync.Mutex
	inflight    sync.WaitGroup
}

// NewExecutionLogStreamer creates a new ExecutionLogStreamer instance
func NewExecutionLogStreamer(sourceToken, environment, uploadURL, filePath string, logger *zap.Logger) *ExecutionLogStreamer {
	streamer := &ExecutionLogStreamer{
		sourceToken: sourceToken,
		environment: environment,
		uploadURL:   uploadURL,
		logger:      logger,
	}

	if environment == "development" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Error("Failed to open execution log file", zap.Error(err))
			streamer.fileWriter = os.Stderr
		} else {
			streamer.file = f
			streamer.fileWriter = f
		}
	} else if uploadURL != "" {
		streamer.client = &http.Client{Timeout: 10 * time.Second}
	}

	return streamer
}

// Record ships one execution record. It never blocks on the network.
func (s *ExecutionLogStreamer) Record(rec model.ExecutionLog) {
	status := rec.Result.HistoryStatus()
	level := "INFO"
	if status != "success" {
		level = "WARN"
	}
	entry := logEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:        level,
		Message:      "code execution",
		Status:       status,
		ExecutionLog: rec,
	}

	body, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("Failed to marshal execution log", zap.Error(err))
		return
	}

	switch {
	case s.fileWriter != nil:
		s.fileMu.Lock()
		_, writeErr := s.fileWriter.Write(append(body, '\n'))
		s.fileMu.Unlock()
		if writeErr != nil {
			s.logger.Error("Failed to write execution log", zap.Error(writeErr))
		}
	case s.client != nil:
		req, err := http.NewRequest(http.MethodPost, s.uploadURL, bytes.NewReader(body))
		if err != nil {
			s.logger.Error("Failed to create HTTP request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.sourceToken)

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			resp, err := s.client.Do(req)
			if err != nil {
				s.logger.Error("Failed to send execution log", zap.Error(err))
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				s.logger.Error("Unexpected response from log ingest", zap.String("status", resp.Status))
			}
		}()
	}

	s.logger.Info("code execution",
		zap.String("request_id", rec.RequestID),
		zap.String("user_id", rec.UserID),
		zap.String("language", rec.Language),
		zap.String("status", string(rec.Result.Status)),
		zap.Float64("execution_time", rec.Result.ExecutionTime),
	)
}

// Close waits for in-flight uploads and closes the log file.
func (s *ExecutionLogStreamer) Close() error {
	s.inflight.Wait()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
