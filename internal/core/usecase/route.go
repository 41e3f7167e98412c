package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

// countingListingRe recognizes counting/listing phrases for the
// filter-forces-relational rule.
var countingListingRe = regexp.MustCompile(`(?i)cu[aá]ntas|listado|lista total|v[ií]ctimas`)

// RouteResult accumulates partial answers per clause, in clause order.
// Victims and sources are deduplicated; chunks are not, because repeated
// evidence across clauses helps the model.
type RouteResult struct {
	VictimCount   int
	Victims       []domain.VictimRow
	Sources       []domain.DocumentRow
	Detail        *domain.VictimDetail
	Chunks        []domain.Chunk
	DocHits       []domain.DocumentHit
	RelationalRun bool
	SemanticRun   bool
	LexicalOnly   bool
	Downgraded    bool
	RelationalErr error
	SemanticErr   error
}

type RouterConfig struct {
	TopKChunks   int
	TopKDocs     int
	ListPageSize int
	SQLTimeout   time.Duration
	IndexTimeout time.Duration
}

func (c RouterConfig) normalize() RouterConfig {
	if c.TopKChunks <= 0 {
		c.TopKChunks = 8
	}
	if c.TopKDocs <= 0 {
		c.TopKDocs = 3
	}
	if c.ListPageSize <= 0 {
		c.ListPageSize = 20
	}
	if c.SQLTimeout <= 0 {
		c.SQLTimeout = 10 * time.Second
	}
	if c.IndexTimeout <= 0 {
		c.IndexTimeout = 10 * time.Second
	}
	return c
}

// Router dispatches each clause of a plan to the relational or the vector
// gateway. The two gateways are independent and read-only, so they run
// concurrently; results join before composition.
type Router struct {
	repo     ports.CaseRepository
	searcher ports.ChunkSearcher
	cfg      RouterConfig
	logger   *slog.Logger
}

func NewRouter(repo ports.CaseRepository, searcher ports.ChunkSearcher, cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{repo: repo, searcher: searcher, cfg: cfg.normalize(), logger: logger}
}

// Execute runs the plan. Gateway failures are reported per side in the
// result, not as a hard error, so the caller can build partial answers.
func (r *Router) Execute(ctx context.Context, plan domain.QueryPlan) RouteResult {
	relational, semantic, downgraded := r.splitByStrategy(plan)

	var res RouteResult
	res.Downgraded = downgraded

	var wg sync.WaitGroup
	var relRes relationalAccumulator
	var semChunks []domain.Chunk
	var semDocs []domain.DocumentHit
	var lexicalOnly bool
	var relErr, semErr error

	if len(relational) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relErr = r.runRelational(ctx, plan, relational, &relRes)
		}()
	}
	if len(semantic) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semChunks, semDocs, lexicalOnly, semErr = r.runSemantic(ctx, plan, semantic)
		}()
	}
	wg.Wait()

	res.RelationalRun = len(relational) > 0
	res.SemanticRun = len(semantic) > 0
	res.VictimCount = relRes.victimCount
	res.Victims = relRes.victims
	res.Sources = relRes.sources
	res.Detail = relRes.detail
	res.Chunks = semChunks
	res.DocHits = semDocs
	res.LexicalOnly = lexicalOnly
	res.RelationalErr = relErr
	res.SemanticErr = semErr
	return res
}

// splitByStrategy partitions clauses, applying the filter-forces-relational
// downgrade: a semantic clause runs relationally when the filters pin a
// tipo_documento or a single NUC and the text is a counting/listing phrase.
func (r *Router) splitByStrategy(plan domain.QueryPlan) (relational, semantic []domain.Clause, downgraded bool) {
	_, singleNUC := plan.CombinedFilters.SingleNUC()
	concreteFilters := plan.CombinedFilters.TipoDocumento != "" || singleNUC

	for _, clause := range plan.Clauses {
		switch clause.Strategy {
		case domain.StrategyRelational, domain.StrategyFilterApplied:
			relational = append(relational, clause)
		case domain.StrategySemantic:
			if concreteFilters && countingListingRe.MatchString(clause.Text) {
				r.logger.Info("clause_downgraded_to_relational", "clause", clause.Text)
				demoted := clause
				demoted.Strategy = domain.StrategyRelational
				relational = append(relational, demoted)
				downgraded = true
				continue
			}
			semantic = append(semantic, clause)
		default:
			r.logger.Warn("[SKIP] unknown clause strategy", "strategy", string(clause.Strategy), "clause", clause.Text)
		}
	}
	return relational, semantic, downgraded
}

type relationalAccumulator struct {
	victimCount int
	counted     bool
	victims     []domain.VictimRow
	victimSeen  map[string]struct{}
	sources     []domain.DocumentRow
	sourceSeen  map[string]struct{}
	detail      *domain.VictimDetail
}

func (a *relationalAccumulator) addVictims(rows []domain.VictimRow) {
	if a.victimSeen == nil {
		a.victimSeen = make(map[string]struct{})
	}
	for _, row := range rows {
		key := fmt.Sprintf("%s|%d", row.Nombre, row.Menciones)
		if _, ok := a.victimSeen[key]; ok {
			continue
		}
		a.victimSeen[key] = struct{}{}
		a.victims = append(a.victims, row)
	}
}

func (a *relationalAccumulator) addSources(rows []domain.DocumentRow) {
	if a.sourceSeen == nil {
		a.sourceSeen = make(map[string]struct{})
	}
	for _, row := range rows {
		key := fmt.Sprintf("%s|%s|%s", row.ID, row.Archivo, row.NUC)
		if _, ok := a.sourceSeen[key]; ok {
			continue
		}
		a.sourceSeen[key] = struct{}{}
		a.sources = append(a.sources, row)
	}
}

func (r *Router) runRelational(ctx context.Context, plan domain.QueryPlan, clauses []domain.Clause, acc *relationalAccumulator) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SQLTimeout)
	defer cancel()

	filters := plan.CombinedFilters
	for _, clause := range clauses {
		if err := ctx.Err(); err != nil {
			return err
		}

		if clause.Intent == domain.IntentPersonLookup && clause.Entities.NombrePersona != "" {
			detail, err := r.repo.VictimDetail(ctx, clause.Entities.NombrePersona)
			if err != nil {
				if domain.IsKind(err, domain.ErrNotFound) {
					r.logger.Info("person_not_found", "nombre", clause.Entities.NombrePersona)
					continue
				}
				return err
			}
			acc.detail = detail
			acc.addSources(detail.Documentos)
			continue
		}

		if !acc.counted {
			count, err := r.repo.CountVictims(ctx, filters)
			if err != nil {
				return err
			}
			acc.victimCount = count
			acc.counted = true
		}

		victims, _, err := r.repo.ListVictims(ctx, filters, 1, r.cfg.ListPageSize)
		if err != nil {
			return err
		}
		acc.addVictims(victims)

		docs, _, err := r.repo.ListDocuments(ctx, filters, 1, r.cfg.ListPageSize)
		if err != nil {
			return err
		}
		acc.addSources(docs)
	}
	return nil
}

func (r *Router) runSemantic(ctx context.Context, plan domain.QueryPlan, clauses []domain.Clause) ([]domain.Chunk, []domain.DocumentHit, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.IndexTimeout)
	defer cancel()

	var chunks []domain.Chunk
	var docs []domain.DocumentHit
	var lexicalOnly bool

	for _, clause := range clauses {
		if err := ctx.Err(); err != nil {
			return chunks, docs, lexicalOnly, err
		}

		query := semanticQuery(clause, plan.CombinedFilters)

		result, err := r.searcher.SearchChunks(ctx, query, plan.CombinedFilters, r.cfg.TopKChunks)
		if err != nil {
			return chunks, docs, lexicalOnly, err
		}
		chunks = append(chunks, result.Chunks...)
		lexicalOnly = lexicalOnly || result.LexicalOnly

		hits, err := r.searcher.SearchDocuments(ctx, query, plan.CombinedFilters, r.cfg.TopKDocs)
		if err != nil {
			// Document summaries are enrichment only; chunk evidence stands.
			r.logger.Warn("document_index_search_failed", "error", err)
			continue
		}
		docs = append(docs, hits...)
	}
	return chunks, docs, lexicalOnly, nil
}

// semanticQuery wraps the clause with the active filter summary so retrieval
// stays anchored to the caller's scope.
func semanticQuery(clause domain.Clause, filters domain.FilterContext) string {
	if filters.IsEmpty() {
		return clause.Text
	}
	return strings.TrimSpace(clause.Text) + "\nFiltros aplicados: " + filters.Summary()
}
