// Package tools mediates every external tool invocation made on behalf of
// the model team.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// Tool is the uniform contract the broker invokes.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// ErrSkipped marks an invocation the tool declined to perform.
var ErrSkipped = errors.New("tool skipped")

// StringArg reads a required non-empty string argument.
func StringArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", name)
	}
	return s, nil
}

// IntArg reads an optional integer argument. JSON numbers arrive as float64.
func IntArg(args map[string]interface{}, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
