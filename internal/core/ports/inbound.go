package ports

import (
	"context"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

// QueryService is the inbound contract for the query-resolution pipeline.
type QueryService interface {
	Answer(ctx context.Context, question, userID string, f domain.FilterContext) (*domain.Answer, error)
}

// HealthProber reports reachability of every external dependency.
type HealthProber interface {
	Check(ctx context.Context) domain.ServiceHealth
}
