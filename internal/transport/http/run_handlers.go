package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecode-server/internal/executor"
)

// Run statuses reported when a program did not run to completion.
const (
	// RunStatusError marks a request that was rejected before running.
	RunStatusError = "error"
	// RunStatusTimeout marks a program stopped at the execution time limit.
	RunStatusTimeout = "timeout"
	// RunStatusUnavailable marks a failure to reach the execution service.
	RunStatusUnavailable = "unavailable"
)

// RunHandlers exposes code execution.
type RunHandlers struct {
	executor *executor.Client
	log      *zerolog.Logger
}

// NewRunHandlers creates run handlers backed by exec.
func NewRunHandlers(exec *executor.Client, logger *zerolog.Logger) *RunHandlers {
	return &RunHandlers{executor: exec, log: logger}
}

// RunRequest is the body of an execution request.
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
}

// RunResponse carries the combined program output. The exit code is not
// exposed; Status is set only when the run did not complete.
type RunResponse struct {
	Output string `json:"output"`
	Status string `json:"status,omitempty"`
}

// Run executes code on the execution service.
// POST /api/run
func (h *RunHandlers) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, RunResponse{Output: "invalid request body", Status: RunStatusError})
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Language) == "" {
		c.JSON(http.StatusBadRequest, RunResponse{Output: "code and language are required", Status: RunStatusError})
		return
	}

	lang, err := executor.ParseLanguage(req.Language)
	if err != nil {
		c.JSON(http.StatusBadRequest, RunResponse{Output: "Unsupported language: " + req.Language, Status: RunStatusError})
		return
	}

	result, err := h.executor.Run(c.Request.Context(), executor.Request{
		Code:     req.Code,
		Language: lang,
		Stdin:    req.Stdin,
	})
	switch {
	case err == nil:
		h.log.Debug().Str("language", string(lang)).Int("exit_code", result.ExitCode).Msg("run finished")
		c.JSON(http.StatusOK, RunResponse{Output: result.Output})
	case errors.Is(err, executor.ErrTimeout):
		c.JSON(http.StatusOK, RunResponse{Output: executor.TimeoutOutput, Status: RunStatusTimeout})
	case errors.Is(err, executor.ErrUnavailable):
		h.log.Warn().Err(err).Str("language", string(lang)).Msg("executor unavailable")
		c.JSON(http.StatusOK, RunResponse{Output: "Execution service unavailable", Status: RunStatusUnavailable})
	case errors.Is(err, executor.ErrMissingCode), errors.Is(err, executor.ErrUnsupportedLanguage):
		c.JSON(http.StatusBadRequest, RunResponse{Output: err.Error(), Status: RunStatusError})
	default:
		h.log.Error().Err(err).Str("language", string(lang)).Msg("execution failed")
		c.JSON(http.StatusInternalServerError, RunResponse{Output: "internal server error", Status: RunStatusError})
	}
}
