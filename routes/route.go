package routes

import (
	"context"
	"net/http"

	"codeexec/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is what the HTTP layer needs from the compiler service.
type Service interface {
	Execute(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
	Languages() []model.LanguageInfo
}

type ExecutionHandler struct {
	svc Service
}

func NewExecutionHandler(svc Service) *ExecutionHandler {
	return &ExecutionHandler{svc: svc}
}

// SetupRoutes registers the execution API on r.
func SetupRoutes(r *gin.Engine, svc Service) {
	h := NewExecutionHandler(svc)

	api := r.Group("/api")
	api.POST("/run", h.HandleExecute)
	api.GET("/languages", h.HandleLanguages)

	r.GET("/health", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *ExecutionHandler) HandleExecute(c *gin.Context) {
	var req model.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}
	req.IP = c.ClientIP()
	if req.UserID == "" {
		req.UserID = c.GetHeader("X-User-ID")
	}

	res := h.svc.Execute(c.Request.Context(), req)
	c.JSON(statusCode(res.Status), res)
}

// statusCode maps refusals to 400. Program failures are still a successful
// API call and carry their own status in the body.
func statusCode(s model.Status) int {
	switch s {
	case model.StatusEmptyInput, model.StatusDangerousCode, model.StatusInputTooLarge:
		return http.StatusBadRequest
	case model.StatusEnvironmentError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (h *ExecutionHandler) HandleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": h.svc.Languages()})
}

func (h *ExecutionHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"languages": len(h.svc.Languages()),
	})
}
