// Package executor runs room code on a Piston-compatible execution API.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultURL is the public Piston endpoint.
	DefaultURL = "https://emkc.org/api/v2/piston"
	// DefaultTimeout bounds a whole execution round trip.
	DefaultTimeout = 10 * time.Second
	// TimeoutOutput is reported to users when an execution is cut off.
	TimeoutOutput = "Execution timed out"

	maxResponseBytes = 1 << 20
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrMissingCode         = errors.New("code is required")
	ErrTimeout             = errors.New("execution timed out")
	ErrUnavailable         = errors.New("executor unavailable")
)

// Request is a single execution.
type Request struct {
	Code     string
	Language Language
	Stdin    string
}

// Result is what the user sees.
type Result struct {
	Output   string
	ExitCode int
}

type pistonFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
	Stdin    string       `json:"stdin,omitempty"`
}

type pistonStage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
	Signal string `json:"signal"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Run      pistonStage  `json:"run"`
	Compile  *pistonStage `json:"compile,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// Client talks to the execution API. It never retries.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient builds a client for baseURL with a hard per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Run executes req.Code. Timeouts yield ErrTimeout; transport failures and
// 5xx answers yield ErrUnavailable.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Code) == "" {
		return Result{}, ErrMissingCode
	}
	rt, ok := runtimes[req.Language]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}

	body, err := json.Marshal(pistonRequest{
		Language: rt.Name,
		Version:  rt.Version,
		Files:    []pistonFile{{Name: rt.Filename, Content: req.Code}},
		Stdin:    req.Stdin,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Output: TimeoutOutput}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Output: TimeoutOutput}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var pr pistonResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		// Piston answers 4xx with {"message": "..."}.
		msg := pr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{Output: msg, ExitCode: -1}, nil
	}

	return pr.result(), nil
}

func (pr *pistonResponse) result() Result {
	if pr.Compile != nil && pr.Compile.Code != nil && *pr.Compile.Code != 0 {
		return Result{Output: strings.TrimSpace(pr.Compile.combined()), ExitCode: *pr.Compile.Code}
	}
	res := Result{Output: strings.TrimSpace(pr.Run.combined())}
	if pr.Run.Code != nil {
		res.ExitCode = *pr.Run.Code
	}
	return res
}

func (s *pistonStage) combined() string {
	if s.Output != "" {
		return s.Output
	}
	return s.Stdout + s.Stderr
}
