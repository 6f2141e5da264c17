package providers

import (
	"context"
	"errors"
	"time"
)

// ErrorReporter receives normalized provider error reports. Implementations
// must not fail the calling turn.
type ErrorReporter interface {
	ReportProviderError(ctx context.Context, provider, model, operation string, err *ProviderError)
}

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Retry executes op with linear backoff while isRetryable returns true.
// When the budget runs out the last error is wrapped in RetryExhaustedError
// so the classifier can surface the final attempt's detail.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	exhausted := &RetryExhaustedError{Attempts: b.maxRetries, Cause: lastErr}
	var call *CallError
	if errors.As(lastErr, &call) {
		exhausted.ResponseBody = call.ResponseBody
	}
	return exhausted
}
