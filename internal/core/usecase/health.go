package usecase

import (
	"context"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

const healthProbeTimeout = 3 * time.Second

// HealthUseCase probes each external dependency independently. The embedding
// probe must bypass the cache, otherwise an outage stays invisible behind a
// cached vector.
type HealthUseCase struct {
	repo      ports.CaseRepository
	searcher  ports.ChunkSearcher
	embedder  ports.Embedder
	generator ports.AnswerGenerator
}

func NewHealthUseCase(
	repo ports.CaseRepository,
	searcher ports.ChunkSearcher,
	embedder ports.Embedder,
	generator ports.AnswerGenerator,
) *HealthUseCase {
	return &HealthUseCase{repo: repo, searcher: searcher, embedder: embedder, generator: generator}
}

func (uc *HealthUseCase) Check(ctx context.Context) domain.ServiceHealth {
	var health domain.ServiceHealth

	probe := func(fn func(context.Context) error) bool {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		return fn(probeCtx) == nil
	}

	if uc.repo != nil {
		health.Relational = probe(uc.repo.Ping)
	}
	if uc.searcher != nil {
		health.Index = probe(func(c context.Context) error {
			h, err := uc.searcher.Health(c)
			if err != nil {
				return err
			}
			if !h.IndexAvailable {
				return domain.ErrBackendUnavailable
			}
			return nil
		})
	}
	if uc.embedder != nil {
		health.Embedding = probe(func(c context.Context) error {
			_, err := uc.embedder.EmbedQuery(c, "ping")
			return err
		})
	}
	if uc.generator != nil {
		health.LLM = probe(uc.generator.Ping)
	}
	return health
}

var _ ports.HealthProber = (*HealthUseCase)(nil)
