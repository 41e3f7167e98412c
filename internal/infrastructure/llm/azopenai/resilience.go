package azopenai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "azure openai status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("azure openai %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("azure openai %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// isContentFilterError recognizes the content-management policy rejection
// Azure returns as a 400 with a dedicated error code.
func isContentFilterError(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.StatusCode != http.StatusBadRequest {
		return false
	}
	return strings.Contains(statusErr.Body, "content_filter") ||
		strings.Contains(statusErr.Body, "ResponsibleAIPolicyViolation")
}

func classifyAzureError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		// Content-policy and other 4xx rejections: retrying verbatim cannot
		// succeed and must not trip the breaker.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// wrapKind classifies a failed call into the domain error taxonomy so the
// pipeline can decide between failing, degrading and re-prompting.
func wrapKind(operation string, err error, unavailableKind error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTimeout, operation, err)
	case errors.Is(err, context.Canceled):
		return domain.WrapError(domain.ErrCanceled, operation, err)
	case isContentFilterError(err):
		return domain.WrapError(domain.ErrLLMContent, operation, err)
	default:
		return domain.WrapError(unavailableKind, operation, err)
	}
}
