/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: errors.go
Description: Error types for guess generation. Invariant violations are fatal and carry a
code and details for diagnostics. A closed consumer is a clean local stop.
*/

package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConsumerClosed is returned by a GuessSink whose reader went away.
// Generation halts cleanly and the run still exits successfully.
var ErrConsumerClosed = errors.New("guess consumer closed")

// InvariantCode categorizes invariant violations
type InvariantCode string

const (
	// ErrCodeDuplicateChild indicates a derivation was enqueued or popped twice
	ErrCodeDuplicateChild InvariantCode = "DUPLICATE_CHILD"

	// ErrCodeProbabilityIncrease indicates a pop was more probable than the previous one
	ErrCodeProbabilityIncrease InvariantCode = "PROBABILITY_INCREASE"

	// ErrCodeMalformedTree indicates a tree that does not match the grammar
	ErrCodeMalformedTree InvariantCode = "MALFORMED_TREE"
)

// InvariantViolation reports a broken enumeration guarantee
type InvariantViolation struct {
	Code    InvariantCode
	Message string
	Details map[string]string
}

// Error implements the error interface
func (e *InvariantViolation) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Details[k]
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// IsInvariantViolation returns true if err is or wraps an InvariantViolation
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

// IsDuplicateChild returns true if err is a duplicate derivation violation
func IsDuplicateChild(err error) bool {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return iv.Code == ErrCodeDuplicateChild
	}
	return false
}

// IsProbabilityIncrease returns true if err is an ordering violation
func IsProbabilityIncrease(err error) bool {
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		return iv.Code == ErrCodeProbabilityIncrease
	}
	return false
}

// IsConsumerClosed returns true if err reports a closed guess consumer
func IsConsumerClosed(err error) bool {
	return errors.Is(err, ErrConsumerClosed)
}
