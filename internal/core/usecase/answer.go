package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

type AnswerConfig struct {
	LLMTimeout    time.Duration
	LatencyBudget time.Duration
}

func (c AnswerConfig) normalize() AnswerConfig {
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 30 * time.Second
	}
	if c.LatencyBudget <= 0 {
		c.LatencyBudget = 30 * time.Second
	}
	return c
}

// AnswerUseCase drives one query through the pipeline:
// RECEIVED → DECOMPOSED → ROUTED → executed → COMPOSED → RESOLVED → LOGGED →
// ANSWERED, with FAILED reachable from any step. FAILED still writes a trace
// record.
type AnswerUseCase struct {
	decomposer *Decomposer
	router     *Router
	generator  ports.AnswerGenerator
	traceQueue ports.TraceQueue
	traceStore ports.TraceStore
	cfg        AnswerConfig
	logger     *slog.Logger

	onTraceFallback func()
}

func NewAnswerUseCase(
	decomposer *Decomposer,
	router *Router,
	generator ports.AnswerGenerator,
	traceQueue ports.TraceQueue,
	traceStore ports.TraceStore,
	cfg AnswerConfig,
	logger *slog.Logger,
) *AnswerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		decomposer: decomposer,
		router:     router,
		generator:  generator,
		traceQueue: traceQueue,
		traceStore: traceStore,
		cfg:        cfg.normalize(),
		logger:     logger,
	}
}

// SetTraceFallbackObserver registers a callback fired each time the queue
// publish fails and the record is written synchronously instead.
func (uc *AnswerUseCase) SetTraceFallbackObserver(fn func()) {
	uc.onTraceFallback = fn
}

func (uc *AnswerUseCase) Answer(ctx context.Context, question, userID string, caller domain.FilterContext) (*domain.Answer, error) {
	start := time.Now()
	queryID := uuid.NewString()

	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is required"))
	}
	if err := caller.Validate(); err != nil {
		return nil, err
	}

	uc.logState(queryID, domain.StateReceived)
	plan := uc.decomposer.Decompose(question, caller)
	uc.logState(queryID, domain.StateDecomposed)

	res := uc.router.Execute(ctx, plan)
	uc.logState(queryID, domain.StateRouted)
	if res.RelationalRun && res.RelationalErr == nil {
		uc.logState(queryID, domain.StateRelationalExecuted)
	}
	if res.SemanticRun && res.SemanticErr == nil {
		uc.logState(queryID, domain.StateSemanticExecuted)
	}

	if err := ctx.Err(); err != nil {
		return uc.fail(ctx, queryID, userID, question, plan, res, start, domain.MethodCanceled,
			domain.WrapError(domain.ErrCanceled, "answer", err))
	}

	// Both gateways down means there is nothing to ground an answer on.
	if failed, primary := bothGatewaysFailed(res); failed {
		return uc.fail(ctx, queryID, userID, question, plan, res, start, domain.MethodFailed, primary)
	}

	var warnings []string
	if res.RelationalErr != nil || res.SemanticErr != nil {
		warnings = append(warnings, domain.WarningPartialAnswer)
		if res.RelationalErr != nil {
			uc.logger.Warn("relational_gateway_failed", "query_id", queryID, "error", res.RelationalErr)
		}
		if res.SemanticErr != nil {
			uc.logger.Warn("semantic_gateway_failed", "query_id", queryID, "error", res.SemanticErr)
		}
	}

	prompt := BuildAnswerPrompt(question, plan, res)
	text, llmRaw, synthWarnings := uc.synthesize(ctx, prompt, res)
	warnings = append(warnings, synthWarnings...)
	uc.logState(queryID, domain.StateComposed)

	cleanText, citations, citWarnings := ResolveCitations(text, res.Chunks, tribunalIndex(res.Sources))
	warnings = append(warnings, citWarnings...)

	// The composer re-prompts once when the semantic block was used but the
	// model cited nothing.
	if len(res.Chunks) > 0 && len(citations) == 0 && llmRaw != "" {
		retry, err := uc.generate(ctx, BuildCitationRetryPrompt(prompt, text))
		if err == nil && strings.TrimSpace(retry.Text) != "" {
			cleanText, citations, citWarnings = ResolveCitations(retry.Text, res.Chunks, tribunalIndex(res.Sources))
			warnings = append(warnings, citWarnings...)
			llmRaw = retry.Text
		}
		if len(citations) == 0 {
			warnings = append(warnings, domain.WarningEmptyCitationSet)
		}
	}
	uc.logState(queryID, domain.StateResolved)

	method := answerMethod(res)
	confidence := plan.Confidence
	if method == domain.MethodTextualFallback && confidence > 0.5 {
		confidence = 0.5
	}

	answer := &domain.Answer{
		Text:       cleanText,
		Citations:  citations,
		Method:     method,
		Confidence: confidence,
		LatencyMS:  time.Since(start).Milliseconds(),
		Plan:       &plan,
		QueryID:    queryID,
		Warnings:   dedupeWarnings(warnings),
	}

	uc.persistTrace(ctx, domain.AnswerRecord{
		QueryID:        queryID,
		UserID:         userID,
		Question:       question,
		Plan:           plan,
		RelationalHits: len(res.Victims) + len(res.Sources),
		SemanticHits:   len(res.Chunks),
		LLMRaw:         llmRaw,
		Citations:      citations,
		LatencyMS:      answer.LatencyMS,
		Method:         method,
		Confidence:     confidence,
		Warnings:       answer.Warnings,
		Timestamp:      time.Now().UTC(),
	})
	uc.logState(queryID, domain.StateLogged)

	uc.logState(queryID, domain.StateAnswered)
	return answer, nil
}

// synthesize calls the LLM once, re-prompts once on a content error, and
// falls back to the raw evidence rendering when no synthesis is possible.
// Transport retries live in the generator's resilience layer.
func (uc *AnswerUseCase) synthesize(ctx context.Context, prompt string, res RouteResult) (text, llmRaw string, warnings []string) {
	result, err := uc.generate(ctx, prompt)
	if err == nil && strings.TrimSpace(result.Text) != "" {
		return result.Text, result.Text, nil
	}

	if err != nil && !domain.IsKind(err, domain.ErrLLMContent) {
		uc.logger.Warn("llm_unavailable", "error", err)
		return EvidenceFallbackText(res), "", []string{domain.WarningNoSynthesis}
	}

	// Content error or empty output: one structured re-prompt.
	retry, retryErr := uc.generate(ctx, prompt+"\n\nRecuerda: responde en texto estructurado con marcadores [CITA-n].")
	if retryErr == nil && strings.TrimSpace(retry.Text) != "" {
		return retry.Text, retry.Text, nil
	}
	return EvidenceFallbackText(res), "", []string{domain.WarningNoSynthesis}
}

func (uc *AnswerUseCase) generate(ctx context.Context, prompt string) (ports.LLMResult, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.LLMTimeout)
	defer cancel()
	return uc.generator.Generate(ctx, prompt)
}

func (uc *AnswerUseCase) fail(
	ctx context.Context,
	queryID, userID, question string,
	plan domain.QueryPlan,
	res RouteResult,
	start time.Time,
	method string,
	cause error,
) (*domain.Answer, error) {
	uc.logState(queryID, domain.StateFailed)
	uc.persistTrace(ctx, domain.AnswerRecord{
		QueryID:      queryID,
		UserID:       userID,
		Question:     question,
		Plan:         plan,
		SemanticHits: len(res.Chunks),
		LatencyMS:    time.Since(start).Milliseconds(),
		Method:       method,
		FailureCause: cause.Error(),
		Timestamp:    time.Now().UTC(),
	})
	return nil, cause
}

// persistTrace prefers the queue so persistence stays off the request path;
// when the queue is missing or down it writes synchronously, best-effort.
func (uc *AnswerUseCase) persistTrace(ctx context.Context, rec domain.AnswerRecord) {
	// Use a detached context so a canceled request still leaves a trace.
	traceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if uc.traceQueue != nil {
		if err := uc.traceQueue.PublishAnswerRecord(traceCtx, rec); err == nil {
			return
		} else {
			uc.logger.Warn("trace_publish_failed", "query_id", rec.QueryID, "error", err)
			if uc.onTraceFallback != nil {
				uc.onTraceFallback()
			}
		}
	}
	if uc.traceStore != nil {
		if err := uc.traceStore.SaveRecord(traceCtx, rec); err != nil {
			uc.logger.Error("trace_save_failed", "query_id", rec.QueryID, "error", err)
		}
	}
}

func bothGatewaysFailed(res RouteResult) (bool, error) {
	relFailed := res.RelationalRun && res.RelationalErr != nil
	semFailed := res.SemanticRun && res.SemanticErr != nil

	switch {
	case relFailed && semFailed:
		return true, res.RelationalErr
	case relFailed && !res.SemanticRun:
		return true, res.RelationalErr
	case semFailed && !res.RelationalRun:
		return true, res.SemanticErr
	}
	return false, nil
}

func answerMethod(res RouteResult) string {
	semanticOK := res.SemanticRun && res.SemanticErr == nil
	relationalOK := res.RelationalRun && res.RelationalErr == nil

	switch {
	case semanticOK && res.LexicalOnly:
		return domain.MethodTextualFallback
	case semanticOK && relationalOK:
		return domain.MethodHybrid
	case semanticOK:
		return domain.MethodSemantic
	default:
		return domain.MethodRelational
	}
}

// tribunalIndex maps normalized filenames to the despacho that produced them,
// so citations can carry the tribunal even though the chunk index omits it.
func tribunalIndex(sources []domain.DocumentRow) map[string]string {
	if len(sources) == 0 {
		return nil
	}
	out := make(map[string]string, len(sources))
	for _, s := range sources {
		if s.Despacho == "" {
			continue
		}
		out[domain.NormalizeArchivo(s.Archivo)] = s.Despacho
	}
	return out
}

func dedupeWarnings(warnings []string) []string {
	if len(warnings) < 2 {
		return warnings
	}
	seen := make(map[string]struct{}, len(warnings))
	out := warnings[:0]
	for _, w := range warnings {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func (uc *AnswerUseCase) logState(queryID string, state domain.QueryState) {
	uc.logger.Debug("query_state", "query_id", queryID, "state", string(state))
}

var _ ports.QueryService = (*AnswerUseCase)(nil)
