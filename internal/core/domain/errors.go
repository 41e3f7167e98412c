package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrLLMUnavailable       = errors.New("llm unavailable")
	ErrLLMContent           = errors.New("llm content error")
	ErrTimeout              = errors.New("timeout")
	ErrCanceled             = errors.New("canceled")
	ErrTemporary            = errors.New("temporary failure")
)

// Non-fatal warning codes attached to an otherwise valid answer.
const (
	WarningDanglingCitation = "dangling_citation"
	WarningEmptyCitationSet = "empty_citation_set"
	WarningPartialAnswer    = "partial_answer"
	WarningNoSynthesis      = "no_synthesis"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
