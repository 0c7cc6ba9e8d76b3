// Package retry implements the retry engine (C3): an escalation ladder of
// direct retry, context refresh, and user-guided retry with exponential
// backoff, plus sequential and parallel batch modes. Grounded on the
// simple linear-retry mechanics of this codebase's task scheduler,
// generalized into the full escalation ladder spec.md requires.
package retry

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kandev/session-core/internal/corelog"
)

// RecoveryAction describes how an attempt (successful or final-failed)
// was reached.
type RecoveryAction string

const (
	RecoveryNone           RecoveryAction = "none"
	RecoveryDirect         RecoveryAction = "direct"
	RecoveryContextRefresh RecoveryAction = "context-refresh"
	RecoveryUserGuidance   RecoveryAction = "user-guidance"
)

// ErrorKind classifies an operation failure for the early-termination rules.
type ErrorKind string

const (
	KindCritical    ErrorKind = "critical"
	KindRecoverable ErrorKind = "recoverable"
)

// OpError is the error contract operations may return to influence the
// ladder. A plain error is treated as recoverable and retryable.
type OpError struct {
	Kind        ErrorKind
	Retryable   bool
	Cause       error
}

func (e *OpError) Error() string { return e.Cause.Error() }
func (e *OpError) Unwrap() error { return e.Cause }

// NewRecoverable wraps err as a retryable, recoverable OpError.
func NewRecoverable(err error) *OpError {
	return &OpError{Kind: KindRecoverable, Retryable: true, Cause: err}
}

// NewCritical wraps err as a non-retryable, critical OpError.
func NewCritical(err error) *OpError {
	return &OpError{Kind: KindCritical, Retryable: false, Cause: err}
}

func classify(err error) (kind ErrorKind, retryable bool) {
	if oe, ok := err.(*OpError); ok {
		return oe.Kind, oe.Retryable
	}
	return KindRecoverable, true
}

// AttemptContext is passed to the operation and to the callbacks. UserInput
// is populated from the user-guidance callback's return value before the
// attempt it precedes.
type AttemptContext struct {
	Attempt   int
	LastError error
	UserInput string
}

// Operation is a user-supplied unit of work, retried by the engine.
type Operation func(ctx context.Context, ac AttemptContext) (interface{}, error)

// ContextRefreshFunc refreshes external context before a retry attempt.
// May suspend; must return an error on failure (surfaced as the attempt's
// outcome, not thrown past the engine).
type ContextRefreshFunc func(ctx context.Context) error

// UserGuidanceFunc asks the host for guidance after repeated failure. A
// return of "" signals cancellation of further retries.
type UserGuidanceFunc func(ctx context.Context, lastErr error, ac AttemptContext) (string, error)

// Config is the escalation ladder's tunables, normally sourced from
// internal/corecfg.RetryConfig.
type Config struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	EnableContextRefresh bool
	EnableUserGuidance   bool

	// SkipRetryForErrors names error kinds that must stop retries
	// immediately regardless of ladder configuration.
	SkipRetryForErrors map[ErrorKind]bool
}

// Result is the outcome of ExecuteWithRetry, per spec §4.3. The retry
// engine never panics or returns an error to its caller beyond this
// struct's Error field.
type Result struct {
	Success        bool
	Value          interface{}
	Error          error
	Attempts       int
	RecoveryAction RecoveryAction
}

// Engine drives operations through the escalation ladder.
type Engine struct {
	contextRefresh ContextRefreshFunc
	userGuidance   UserGuidanceFunc
	logger         *corelog.Logger
}

// New builds a retry engine. contextRefresh and userGuidance may be nil;
// when nil, ladder rungs that would invoke them are skipped as if
// disabled, matching spec's "if enabled *and* a callback is provided".
func New(contextRefresh ContextRefreshFunc, userGuidance UserGuidanceFunc, logger *corelog.Logger) *Engine {
	if logger == nil {
		logger = corelog.Default()
	}
	return &Engine{
		contextRefresh: contextRefresh,
		userGuidance:   userGuidance,
		logger:         logger.Child(map[string]interface{}{"component": "retry"}),
	}
}

// ExecuteWithRetry runs op up to cfg.MaxAttempts times per the escalation
// ladder in spec §4.3.
func (e *Engine) ExecuteWithRetry(ctx context.Context, op Operation, cfg Config) Result {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	ac := AttemptContext{Attempt: 1}
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		ac.Attempt = attempt
		ac.LastError = lastErr

		action := RecoveryDirect
		if attempt >= 2 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{Success: false, Error: ctx.Err(), Attempts: attempt - 1, RecoveryAction: RecoveryNone}
			}
		}

		switch attempt {
		case 1:
			action = RecoveryDirect
		case 2:
			if cfg.EnableContextRefresh && e.contextRefresh != nil {
				action = RecoveryContextRefresh
				if err := e.contextRefresh(ctx); err != nil {
					e.logger.Warn("context refresh failed", map[string]interface{}{"error": err.Error()}, nil)
					lastErr = err
					continue
				}
			} else {
				action = RecoveryDirect
			}
		default:
			if cfg.EnableUserGuidance && e.userGuidance != nil {
				input, err := e.userGuidance(ctx, lastErr, ac)
				if err != nil || input == "" {
					return Result{Success: false, Error: lastErr, Attempts: attempt - 1, RecoveryAction: RecoveryUserGuidance}
				}
				ac.UserInput = input
				action = RecoveryUserGuidance
			} else {
				action = RecoveryDirect
			}
		}

		value, err := op(ctx, ac)
		if err == nil {
			return Result{Success: true, Value: value, Attempts: attempt, RecoveryAction: action}
		}

		lastErr = err
		kind, retryable := classify(err)

		if kind == KindCritical {
			return Result{Success: false, Error: err, Attempts: attempt, RecoveryAction: action}
		}
		if !retryable && attempt == 1 {
			return Result{Success: false, Error: err, Attempts: attempt, RecoveryAction: action}
		}
		if cfg.SkipRetryForErrors != nil && cfg.SkipRetryForErrors[kind] {
			return Result{Success: false, Error: err, Attempts: attempt, RecoveryAction: action}
		}
	}

	return Result{Success: false, Error: lastErr, Attempts: cfg.MaxAttempts, RecoveryAction: RecoveryNone}
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	delay := time.Duration(d)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// NamedOperation pairs a label with an Operation for batch execution.
type NamedOperation struct {
	Name string
	Op   Operation
}

// BatchResult is one named operation's outcome within a batch.
type BatchResult struct {
	Name   string
	Result Result
}

// ExecuteBatchWithRetry runs a sequence of named operations, each
// individually subject to the escalation ladder. Sequential mode stops
// on first failure when stopOnFirstFailure is set; parallel mode runs
// all operations concurrently and ignores stopOnFirstFailure.
func (e *Engine) ExecuteBatchWithRetry(ctx context.Context, ops []NamedOperation, cfg Config, parallel bool, stopOnFirstFailure bool) []BatchResult {
	if !parallel {
		results := make([]BatchResult, 0, len(ops))
		for _, no := range ops {
			r := e.ExecuteWithRetry(ctx, no.Op, cfg)
			results = append(results, BatchResult{Name: no.Name, Result: r})
			if !r.Success && stopOnFirstFailure {
				break
			}
		}
		return results
	}

	results := make([]BatchResult, len(ops))
	var g errgroup.Group
	for i, no := range ops {
		i, no := i, no
		g.Go(func() error {
			results[i] = BatchResult{Name: no.Name, Result: e.ExecuteWithRetry(ctx, no.Op, cfg)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
