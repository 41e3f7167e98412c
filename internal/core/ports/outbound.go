package ports

import (
	"context"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

// CaseRepository is the relational gateway over documentos, metadatos,
// personas and the analysis side tables. Read-only on the request path.
type CaseRepository interface {
	CountVictims(ctx context.Context, f domain.FilterContext) (int, error)
	ListVictims(ctx context.Context, f domain.FilterContext, page, pageSize int) ([]domain.VictimRow, int, error)
	ListDocuments(ctx context.Context, f domain.FilterContext, page, pageSize int) ([]domain.DocumentRow, int, error)
	VictimDetail(ctx context.Context, nombre string) (*domain.VictimDetail, error)
	DocumentMetadata(ctx context.Context, archivo string) (*domain.Metadata, error)
	EntityOptions(ctx context.Context, field string) ([]string, error)
	OccurrencePairs(ctx context.Context, minFreq int) ([]domain.OccurrencePair, error)
	Ping(ctx context.Context) error
}

// ChunkSearcher is the hybrid retrieval gateway over the document-level and
// chunk-level indices.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, query string, f domain.FilterContext, k int) (domain.ChunkSearchResult, error)
	SearchDocuments(ctx context.Context, query string, f domain.FilterContext, k int) ([]domain.DocumentHit, error)
	FetchContext(ctx context.Context, documentoID string, pagina int) ([]domain.Chunk, error)
	Health(ctx context.Context) (domain.SearchHealth, error)
}

// Embedder turns query text into a dense vector. A nil vector with
// domain.ErrEmbeddingUnavailable degrades retrieval to lexical-only.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LLMResult carries the raw model output and token accounting.
type LLMResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// AnswerGenerator is the chat-completion client. It only summarizes and
// cites; routing never depends on it.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string) (LLMResult, error)
	Ping(ctx context.Context) error
}

// TraceStore persists append-only answer records, feedback and metrics.
type TraceStore interface {
	SaveRecord(ctx context.Context, rec domain.AnswerRecord) error
	RecordFeedback(ctx context.Context, fb domain.Feedback) (string, error)
	Stats(ctx context.Context, days int) (domain.Stats, error)
	History(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}

// TraceQueue decouples trace persistence from the request path.
type TraceQueue interface {
	PublishAnswerRecord(ctx context.Context, rec domain.AnswerRecord) error
	SubscribeAnswerRecords(ctx context.Context, handler func(context.Context, domain.AnswerRecord) error) error
}

// GraphStore reads the co-occurrence network; optional auxiliary view.
type GraphStore interface {
	Network(ctx context.Context, minFreq int) (domain.GraphNetwork, error)
}

// PlaceCatalog resolves known Colombian place names inside free text.
type PlaceCatalog interface {
	// FindPlace returns the longest known place mentioned in text.
	FindPlace(text string) (domain.PlaceRow, bool)
}
