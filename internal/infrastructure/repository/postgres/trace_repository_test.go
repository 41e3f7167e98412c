package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

func newTraceRepoWithMock(t *testing.T) (*TraceRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &TraceRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestSaveRecordWritesConsultaAndFuentes(t *testing.T) {
	repo, mock, done := newTraceRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rag_consultas`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO rag_fuentes`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO rag_fuentes`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	rec := domain.AnswerRecord{
		QueryID:   "q1",
		Question:  "cuántas víctimas",
		Method:    domain.MethodHybrid,
		LatencyMS: 1200,
		Citations: []domain.Citation{
			{Marker: "CITA-1", Archivo: "sentencia001", Pagina: 4},
			{Marker: "CITA-2", Archivo: "sentencia002", Pagina: 9},
		},
		Timestamp: time.Now().UTC(),
	}
	if err := repo.SaveRecord(context.Background(), rec); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRecordRollsBackOnSourceFailure(t *testing.T) {
	repo, mock, done := newTraceRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rag_consultas`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO rag_fuentes`).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	rec := domain.AnswerRecord{
		QueryID:   "q1",
		Question:  "pregunta",
		Method:    domain.MethodRelational,
		Citations: []domain.Citation{{Marker: "CITA-1"}},
	}
	err := repo.SaveRecord(context.Background(), rec)
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordFeedbackValidatesRating(t *testing.T) {
	repo, _, done := newTraceRepoWithMock(t)
	defer done()

	for _, rating := range []int{0, 6, -1} {
		_, err := repo.RecordFeedback(context.Background(), domain.Feedback{QueryID: "q1", Rating: rating})
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("rating %d: expected ErrInvalidInput, got %v", rating, err)
		}
	}

	_, err := repo.RecordFeedback(context.Background(), domain.Feedback{Rating: 3})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("missing query_id: expected ErrInvalidInput, got %v", err)
	}
}

func TestRecordFeedbackInsertsAndReturnsID(t *testing.T) {
	repo, mock, done := newTraceRepoWithMock(t)
	defer done()

	mock.ExpectExec(`INSERT INTO rag_feedback`).
		WithArgs(sqlmock.AnyArg(), "q1", 4, "útil", sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.RecordFeedback(context.Background(), domain.Feedback{
		QueryID: "q1",
		Rating:  4,
		Comment: "útil",
	})
	if err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated feedback id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStatsAggregates(t *testing.T) {
	repo, mock, done := newTraceRepoWithMock(t)
	defer done()

	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\),[\s\S]+FROM rag_consultas`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"count", "today", "avg"}).AddRow(120, 8, 950.5))
	mock.ExpectQuery(`SELECT COALESCE\(AVG\(f\.rating\), 0\)`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(4.2))
	mock.ExpectQuery(`SELECT metodo, COUNT\(\*\)`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"metodo", "count"}).
			AddRow("relational", 70).
			AddRow("hybrid", 50))
	mock.ExpectQuery(`SELECT query_id, pregunta, metodo, latency_ms, created_at`).
		WithArgs(statsRecentLimit).
		WillReturnRows(sqlmock.NewRows([]string{"query_id", "pregunta", "metodo", "latency_ms", "created_at"}).
			AddRow("q9", "última pregunta", "hybrid", 1100, now))

	stats, err := repo.Stats(context.Background(), 7)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 120 || stats.Today != 8 {
		t.Fatalf("totals wrong: %+v", stats)
	}
	if stats.MethodDistribution["relational"] != 70 {
		t.Fatalf("method distribution wrong: %+v", stats.MethodDistribution)
	}
	if len(stats.Recent) != 1 || stats.Recent[0].QueryID != "q9" {
		t.Fatalf("recent wrong: %+v", stats.Recent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryRequiresUser(t *testing.T) {
	repo, _, done := newTraceRepoWithMock(t)
	defer done()

	_, err := repo.History(context.Background(), "", 20)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHistoryReturnsUserEntries(t *testing.T) {
	repo, mock, done := newTraceRepoWithMock(t)
	defer done()

	now := time.Now()
	mock.ExpectQuery(`SELECT query_id, pregunta, COALESCE\(llm_raw, ''\), metodo, created_at`).
		WithArgs("u1", 20).
		WillReturnRows(sqlmock.NewRows([]string{"query_id", "pregunta", "llm_raw", "metodo", "created_at"}).
			AddRow("q2", "segunda", "respuesta 2", "semantic", now).
			AddRow("q1", "primera", "respuesta 1", "relational", now.Add(-time.Minute)))

	entries, err := repo.History(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 || entries[0].QueryID != "q2" {
		t.Fatalf("entries wrong: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
