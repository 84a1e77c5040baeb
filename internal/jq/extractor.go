// Package jq evaluates jq expressions against tool inputs to derive
// human-readable activity strings.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single expression run. Activity extraction
	// sits on the hook hot path and gets a small slice of the deadline.
	DefaultTimeout = 250 * time.Millisecond

	// DefaultMaxInputSize is the largest tool input an expression runs
	// against; bigger inputs are skipped, not truncated.
	DefaultMaxInputSize = 1 << 20
)

// Extractor evaluates jq expressions with timeout and size limits.
// Compiled programs are cached per expression, so an invocation that
// extracts several fields compiles each program once.
type Extractor struct {
	timeout      time.Duration
	maxInputSize int64
	cache        map[string]*gojq.Code
}

// NewExtractor creates an extractor. Zero arguments fall back to the
// defaults.
func NewExtractor(timeout time.Duration, maxInputSize int64) *Extractor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Extractor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
		cache:        make(map[string]*gojq.Code),
	}
}

// Validate reports whether an expression parses and compiles. Used when
// loading configuration so broken expressions surface once, not on
// every invocation.
func (e *Extractor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid jq expression: %w", err)
	}
	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("jq compilation failed: %w", err)
	}
	return nil
}

// ExtractString runs an expression against a raw JSON document and
// coerces the first result to a string. Every failure mode (parse error,
// oversized input, timeout, null or non-scalar result) returns
// ("", false); extraction never errors on the hot path.
func (e *Extractor) ExtractString(ctx context.Context, expression string, raw json.RawMessage) (string, bool) {
	if expression == "" || len(raw) == 0 {
		return "", false
	}
	if int64(len(raw)) > e.maxInputSize {
		return "", false
	}

	code, err := e.compile(expression)
	if err != nil {
		return "", false
	}

	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return "", false
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, input)
	v, ok := iter.Next()
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, val != ""
	case float64:
		return fmt.Sprintf("%v", val), true
	case int:
		return fmt.Sprintf("%d", val), true
	case bool:
		return fmt.Sprintf("%t", val), true
	default:
		// Errors, nulls, and structured results all mean "no activity".
		return "", false
	}
}

func (e *Extractor) compile(expression string) (*gojq.Code, error) {
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}
	e.cache[expression] = code
	return code, nil
}
