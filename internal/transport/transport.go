// Package transport provides the single outbound HTTP abstraction shared by
// the tool plane, the backend, and the LLM service: one pooled client per
// logical upstream, tagged error kinds instead of raw errors crossing the
// boundary, and exponential-backoff retry limited to network-class and 5xx
// failures.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
	"github.com/meridianfin/advisor-agent/internal/retry"
)

// PoolConfig configures one logical upstream's connection pool and timeouts.
type PoolConfig struct {
	Name               string
	BaseURL            string
	MaxConnsPerHost    int
	MaxIdleConnsPerHost int
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	AuthToken          string
}

// DefaultPoolConfig returns the documented defaults: 10 pools x 20 max connections
// (expressed per-pool here as MaxConnsPerHost), 3 retry attempts with
// 1s/2s/4s backoff.
func DefaultPoolConfig(name, baseURL string) PoolConfig {
	return PoolConfig{
		Name:                name,
		BaseURL:             baseURL,
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         25 * time.Second,
		MaxAttempts:         3,
		InitialBackoff:      1 * time.Second,
		MaxBackoff:          4 * time.Second,
	}
}

// Pool is one persistent pooled HTTP client for a single logical upstream.
type Pool struct {
	config PoolConfig
	client *http.Client
}

// NewPool builds a Pool whose underlying http.Transport is sized per cfg,
// eliminating per-request TLS/connection setup cost on the hot fan-out path.
func NewPool(cfg PoolConfig) *Pool {
	rt := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Pool{
		config: cfg,
		client: &http.Client{
			Transport: rt,
			Timeout:   cfg.ReadTimeout,
		},
	}
}

// Request is one outbound call issued through a Pool.
type Request struct {
	Path      string
	Method    string // HTTP method; defaults to POST
	Body      any
	CallID    string
	TraceID   string
	TimeoutMS int
	Headers   map[string]string
}

// Result is the raw response body plus the elapsed wall time.
type Result struct {
	StatusCode int
	Body       []byte
	ElapsedMS  int64
}

// Do issues req with retry/backoff, returning a tagged *errs.ToolInvocationError
// on failure. Only network-class failures and 5xx responses are retried, up
// to config.MaxAttempts (default 3); 4xx and decode errors short-circuit
// immediately via retry.Permanent.
func (p *Pool) Do(ctx context.Context, req Request) (*Result, error) {
	if req.CallID == "" {
		req.CallID = uuid.New().String()
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if req.TimeoutMS > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	maxAttempts := p.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	rc := retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: p.config.InitialBackoff,
		MaxDelay:     p.config.MaxBackoff,
		Factor:       2.0,
	}

	attempt := 0
	result, rr := retry.DoWithValue(callCtx, rc, func() (*Result, error) {
		attempt++
		res, kind, err := p.doOnce(callCtx, method, req)
		if err == nil {
			return res, nil
		}
		tagged := &errs.ToolInvocationError{Kind: kind, ToolCallID: req.CallID, Cause: err, Attempts: attempt}
		if !kind.Retryable() {
			return nil, retry.Permanent(tagged)
		}
		return nil, tagged
	})

	if rr.Err != nil {
		var tagged *errs.ToolInvocationError
		if pe, ok := rr.Err.(*retry.PermanentError); ok {
			if t, ok2 := pe.Err.(*errs.ToolInvocationError); ok2 {
				tagged = t
			}
		} else if t, ok := rr.Err.(*errs.ToolInvocationError); ok {
			tagged = t
		}
		if tagged != nil {
			tagged.Attempts = rr.Attempts
			return nil, tagged
		}
		kind := errs.ToolErrNetwork
		if errors.Is(rr.Err, context.DeadlineExceeded) || errors.Is(rr.Err, context.Canceled) {
			kind = errs.ToolErrTimeout
		}
		return nil, &errs.ToolInvocationError{
			Kind:       kind,
			ToolCallID: req.CallID,
			Cause:      rr.Err,
			Attempts:   rr.Attempts,
		}
	}
	return result, nil
}

func (p *Pool) doOnce(ctx context.Context, method string, req Request) (*Result, errs.ToolInvocationErrorKind, error) {
	start := time.Now()

	var bodyReader io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errs.ToolErrSchemaValidation, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	url := p.config.BaseURL + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, errs.ToolErrClient4xx, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.AuthToken)
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Trace-Id", req.TraceID)
	}
	httpReq.Header.Set("X-Call-Id", req.CallID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.ToolErrTimeout, fmt.Errorf("request: %w", ctx.Err())
		}
		return nil, errs.ToolErrNetwork, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.ToolErrNetwork, fmt.Errorf("read response: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	result := &Result{StatusCode: resp.StatusCode, Body: body, ElapsedMS: elapsed}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return result, errs.ToolErrAuth, fmt.Errorf("http %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return result, errs.ToolErrClient4xx, fmt.Errorf("http %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return result, errs.ToolErrServer5xx, fmt.Errorf("http %d", resp.StatusCode)
	}
	return result, "", nil
}
