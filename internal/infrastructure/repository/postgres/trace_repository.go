package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
)

const statsRecentLimit = 10

// TraceRepository owns the rag_* tables: every query outcome, its cited
// sources and user feedback. Records are append-only; replay and metrics read
// from here.
type TraceRepository struct {
	db *sql.DB
}

func NewTraceRepository(db *sql.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

func (r *TraceRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS rag_consultas (
	query_id TEXT PRIMARY KEY,
	user_id TEXT,
	pregunta TEXT NOT NULL,
	plan JSONB NOT NULL DEFAULT '{}'::jsonb,
	relational_hits INTEGER NOT NULL DEFAULT 0,
	semantic_hits INTEGER NOT NULL DEFAULT 0,
	llm_raw TEXT,
	metodo TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	failure_cause TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rag_fuentes (
	id BIGSERIAL PRIMARY KEY,
	query_id TEXT NOT NULL REFERENCES rag_consultas(query_id) ON DELETE CASCADE,
	marker TEXT NOT NULL,
	documento_id TEXT,
	archivo TEXT,
	nuc TEXT,
	pagina INTEGER,
	parrafo INTEGER,
	tipo_documento TEXT,
	texto_chunk TEXT,
	relevancia DOUBLE PRECISION,
	tribunal TEXT
);

CREATE TABLE IF NOT EXISTS rag_feedback (
	id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL,
	rating INTEGER NOT NULL,
	comentario TEXT,
	aspectos JSONB NOT NULL DEFAULT '{}'::jsonb,
	respuesta_esperada TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rag_consultas_created_at ON rag_consultas(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_rag_consultas_user_id ON rag_consultas(user_id);
CREATE INDEX IF NOT EXISTS idx_rag_fuentes_query_id ON rag_fuentes(query_id);
CREATE INDEX IF NOT EXISTS idx_rag_feedback_query_id ON rag_feedback(query_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveRecord writes the consulta row and its cited sources in one
// transaction. Records are never updated.
func (r *TraceRepository) SaveRecord(ctx context.Context, rec domain.AnswerRecord) error {
	planJSON, err := json.Marshal(rec.Plan)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "marshal plan", err)
	}
	warnings := rec.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "marshal warnings", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "begin trace tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO rag_consultas (
	query_id, user_id, pregunta, plan, relational_hits, semantic_hits,
	llm_raw, metodo, confidence, latency_ms, warnings, failure_cause, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (query_id) DO NOTHING
`,
		rec.QueryID, rec.UserID, rec.Question, planJSON, rec.RelationalHits, rec.SemanticHits,
		rec.LLMRaw, rec.Method, rec.Confidence, rec.LatencyMS, warningsJSON, rec.FailureCause, ts,
	)
	if err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "insert consulta", err)
	}

	for _, cit := range rec.Citations {
		_, err = tx.ExecContext(ctx, `
INSERT INTO rag_fuentes (
	query_id, marker, documento_id, archivo, nuc, pagina, parrafo,
	tipo_documento, texto_chunk, relevancia, tribunal
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
			rec.QueryID, cit.Marker, cit.DocumentoID, cit.Archivo, cit.NUC, cit.Pagina, cit.Parrafo,
			cit.TipoDocumento, cit.TextoChunk, cit.Relevancia, cit.Tribunal,
		)
		if err != nil {
			return domain.WrapError(domain.ErrBackendUnavailable, "insert fuente", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "commit trace tx", err)
	}
	return nil
}

func (r *TraceRepository) RecordFeedback(ctx context.Context, fb domain.Feedback) (string, error) {
	if fb.QueryID == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "record feedback", fmt.Errorf("query_id is required"))
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return "", domain.WrapError(domain.ErrInvalidInput, "record feedback", fmt.Errorf("rating %d out of range 1..5", fb.Rating))
	}

	aspects := fb.AspectRatings
	if aspects == nil {
		aspects = map[string]int{}
	}
	aspectsJSON, err := json.Marshal(aspects)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "marshal aspects", err)
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rag_feedback (id, query_id, rating, comentario, aspectos, respuesta_esperada, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, id, fb.QueryID, fb.Rating, fb.Comment, aspectsJSON, fb.ExpectedAnswer, time.Now().UTC())
	if err != nil {
		return "", domain.WrapError(domain.ErrBackendUnavailable, "insert feedback", err)
	}
	return id, nil
}

func (r *TraceRepository) Stats(ctx context.Context, days int) (domain.Stats, error) {
	if days < 1 {
		days = 7
	}
	var stats domain.Stats

	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE created_at::date = CURRENT_DATE),
       COALESCE(AVG(latency_ms), 0)
FROM rag_consultas
WHERE created_at >= NOW() - make_interval(days => $1)
`, days).Scan(&stats.Total, &stats.Today, &stats.AvgLatencyMS)
	if err != nil {
		return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "stats totals", err)
	}

	err = r.db.QueryRowContext(ctx, `
SELECT COALESCE(AVG(f.rating), 0)
FROM rag_feedback f
JOIN rag_consultas c ON c.query_id = f.query_id
WHERE c.created_at >= NOW() - make_interval(days => $1)
`, days).Scan(&stats.AvgRating)
	if err != nil {
		return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "stats rating", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT metodo, COUNT(*)
FROM rag_consultas
WHERE created_at >= NOW() - make_interval(days => $1)
GROUP BY metodo
`, days)
	if err != nil {
		return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "stats methods", err)
	}
	defer rows.Close()

	stats.MethodDistribution = make(map[string]int64)
	for rows.Next() {
		var method string
		var count int64
		if err := rows.Scan(&method, &count); err != nil {
			return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "scan method count", err)
		}
		stats.MethodDistribution[method] = count
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "iterate method counts", err)
	}

	recent, err := r.db.QueryContext(ctx, `
SELECT query_id, pregunta, metodo, latency_ms, created_at
FROM rag_consultas
ORDER BY created_at DESC
LIMIT $1
`, statsRecentLimit)
	if err != nil {
		return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "stats recent", err)
	}
	defer recent.Close()

	for recent.Next() {
		var row domain.StatsRecent
		if err := recent.Scan(&row.QueryID, &row.Question, &row.Method, &row.LatencyMS, &row.Timestamp); err != nil {
			return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "scan recent query", err)
		}
		stats.Recent = append(stats.Recent, row)
	}
	if err := recent.Err(); err != nil {
		return domain.Stats{}, domain.WrapError(domain.ErrBackendUnavailable, "iterate recent queries", err)
	}

	return stats, nil
}

func (r *TraceRepository) History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	if userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "history", fmt.Errorf("user_id is required"))
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, pregunta, COALESCE(llm_raw, ''), metodo, created_at
FROM rag_consultas
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "history", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.QueryID, &e.Question, &e.Answer, &e.Method, &e.Timestamp); err != nil {
			return nil, domain.WrapError(domain.ErrBackendUnavailable, "scan history entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "iterate history", err)
	}
	return entries, nil
}

var _ ports.TraceStore = (*TraceRepository)(nil)
