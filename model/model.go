package model

// Status classifies the outcome of an execution request.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusEmptyInput       Status = "empty_input"
	StatusInputTooLarge    Status = "input_too_large"
	StatusDangerousCode    Status = "dangerous_code"
	StatusCompileError     Status = "compile_error"
	StatusRuntimeError     Status = "runtime_error"
	StatusTimeout          Status = "timeout"
	StatusEnvironmentError Status = "environment_error"
)

// ExecutionRequest represents the request structure for code execution
type ExecutionRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	UserID   string `json:"user_id,omitempty"`
	// IP is filled in by the transport, never decoded from the payload.
	IP string `json:"-"`
}

// ExecutionResult is the normalized outcome returned for every request.
// Output and Error are pointers so absent fields are omitted rather than
// sent as empty strings.
type ExecutionResult struct {
	Output        *string  `json:"output,omitempty"`
	Error         *string  `json:"error,omitempty"`
	ExecutionTime float64  `json:"execution_time"`
	CPUTime       *float64 `json:"cpu_time,omitempty"`
	MemoryUsed    *int64   `json:"memory_used,omitempty"`
	Status        Status   `json:"status"`
	Language      string   `json:"language,omitempty"`
}

// LanguageInfo describes a registered language for listing endpoints.
type LanguageInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

// Succeeded builds a result carrying program output.
func Succeeded(output string, seconds float64) ExecutionResult {
	return ExecutionResult{Output: &output, ExecutionTime: seconds, Status: StatusSuccess}
}

// Failed builds a result carrying an error message.
func Failed(status Status, message string, seconds float64) ExecutionResult {
	return ExecutionResult{Error: &message, ExecutionTime: seconds, Status: status}
}

// OutputText returns the output or "" when absent.
func (r ExecutionResult) OutputText() string {
	if r.Output == nil {
		return ""
	}
	return *r.Output
}

// ErrorText returns the error or "" when absent.
func (r ExecutionResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// ExecutionLog is handed to the history collaborator after every request,
// whatever its outcome.
type ExecutionLog struct {
	RequestID string          `json:"request_id"`
	UserID    string          `json:"user_id,omitempty"`
	IP        string          `json:"ip,omitempty"`
	Language  string          `json:"language"`
	Code      string          `json:"code"`
	Result    ExecutionResult `json:"result"`
}

// HistoryStatus collapses a status into the success/error/timeout triple
// used by execution history.
func (r ExecutionResult) HistoryStatus() string {
	switch r.Status {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	default:
		return "error"
	}
}
