// Package inference calls language models through vendor SDKs behind one
// Provider contract, with per-provider circuit breaking and rate limiting.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Completion is the result of one model call.
type Completion struct {
	Text         string
	ModelID      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	// Set by the router.
	Provider string
	CostUSD  float64
}

// Provider completes prompts for the models of one vendor.
type Provider interface {
	Name() string
	Complete(ctx context.Context, modelID, prompt string, maxTokens int) (Completion, error)
}

// Completer is what callers above the router depend on.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string, maxTokens int) (Completion, error)
}

// ProviderError wraps vendor errors with status metadata.
type ProviderError struct {
	Provider  string
	Status    int
	Temporary bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrEmptyCompletion is returned when a vendor answers with no text.
var ErrEmptyCompletion = errors.New("provider returned empty completion")

// IsTransient reports whether an error is worth retrying or should trip a breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.Temporary {
			return true
		}
		if perr.Status == 429 || (perr.Status >= 500 && perr.Status <= 599) {
			return true
		}
	}
	return false
}
