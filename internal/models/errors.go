package models

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error codes surfaced to callers
const (
	CodeClassification      = "CLASSIFICATION_ERROR"
	CodeSafetyBlocked       = "SAFETY_BLOCKED"
	CodeNoViableStrategy    = "NO_VIABLE_STRATEGY"
	CodeToolFailure         = "TOOL_FAILURE"
	CodeModelCallFailure    = "MODEL_CALL_FAILURE"
	CodeOrchestrationFailed = "ORCHESTRATION_FAILED"
	CodeVerificationTimeout = "VERIFICATION_TIMEOUT"
	CodeDeadlineExceeded    = "DEADLINE_EXCEEDED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Base error types
var (
	ErrEmptyQuery        = errors.New("query is empty")
	ErrNoUsableResponses = errors.New("no usable model responses")
	ErrProviderNotFound  = errors.New("inference provider not found")
	ErrModelNotInCatalog = errors.New("model not in catalog")
	ErrToolNotRegistered = errors.New("tool not registered")
)

// CodedError is implemented by every error with a stable code.
type CodedError interface {
	error
	Code() string
}

// ClassificationError reports malformed or empty input.
type ClassificationError struct {
	Reason string
	Cause  error
}

func (e *ClassificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("classification failed: %s: %v", e.Reason, e.Cause)
	}
	return "classification failed: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Cause }

func (e *ClassificationError) Code() string { return CodeClassification }

// SafetyBlockedError is a terminal refusal.
type SafetyBlockedError struct {
	Reason string
	Terms  []string
}

func (e *SafetyBlockedError) Error() string {
	return "request blocked by safety policy: " + e.Reason
}

func (e *SafetyBlockedError) Code() string { return CodeSafetyBlocked }

// NoViableStrategyError names the constraint that excluded every capable model.
type NoViableStrategyError struct {
	Constraint string
	Detail     string
}

func (e *NoViableStrategyError) Error() string {
	return fmt.Sprintf("no viable strategy: constraint %s: %s", e.Constraint, e.Detail)
}

func (e *NoViableStrategyError) Code() string { return CodeNoViableStrategy }

// ToolFailure is local to one tool call and never propagated to the caller.
type ToolFailure struct {
	Tool    string
	Timeout bool
	Cause   error
}

func (e *ToolFailure) Error() string {
	if e.Timeout {
		return fmt.Sprintf("tool %s timed out", e.Tool)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ToolFailure) Unwrap() error { return e.Cause }

func (e *ToolFailure) Code() string { return CodeToolFailure }

// ModelCallFailure is local to one plan step.
type ModelCallFailure struct {
	ModelID   string
	StepIndex int
	Timeout   bool
	Cause     error
}

func (e *ModelCallFailure) Error() string {
	if e.Timeout {
		return fmt.Sprintf("model %s (step %d) timed out", e.ModelID, e.StepIndex)
	}
	return fmt.Sprintf("model %s (step %d) failed: %v", e.ModelID, e.StepIndex, e.Cause)
}

func (e *ModelCallFailure) Unwrap() error { return e.Cause }

func (e *ModelCallFailure) Code() string { return CodeModelCallFailure }

// OrchestrationFailedError is raised when every plan step failed.
type OrchestrationFailedError struct {
	Steps  int
	Errors []string
}

func (e *OrchestrationFailedError) Error() string {
	return fmt.Sprintf("orchestration failed: all %d steps failed: %s", e.Steps, strings.Join(e.Errors, "; "))
}

func (e *OrchestrationFailedError) Code() string { return CodeOrchestrationFailed }

// VerificationTimeout is recovered locally; outstanding claims become unverifiable.
type VerificationTimeout struct {
	Outstanding int
}

func (e *VerificationTimeout) Error() string {
	return fmt.Sprintf("verification timed out with %d claims outstanding", e.Outstanding)
}

func (e *VerificationTimeout) Code() string { return CodeVerificationTimeout }

// DeadlineExceededError is fatal only when no step completed.
type DeadlineExceededError struct {
	Stage string
}

func (e *DeadlineExceededError) Error() string {
	return "request deadline exceeded during " + e.Stage + " with no completed steps"
}

func (e *DeadlineExceededError) Code() string { return CodeDeadlineExceeded }

// ErrorCode returns the stable code for err, or CodeInternal.
func ErrorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// ErrorBody is the structured error object returned to callers.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorBody builds the structured error for err.
func NewErrorBody(err error) ErrorBody {
	return ErrorBody{Code: ErrorCode(err), Message: err.Error()}
}
