package cognitive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/resilience"
)

const (
	apiVersion = "2023-11-01"

	// defaultSimThreshold drops weakly related chunks. The cut applies to
	// the normalized similarity, not the raw fused score.
	defaultSimThreshold = 0.7

	// rrfMaxScore is the best possible RRF-fused score when lexical and
	// vector rankings agree on rank 1: 2 * 1/(60+1) with Azure's fixed
	// k=60. Hybrid scores are normalized against it before the threshold.
	rrfMaxScore = 2.0 / 61.0

	// contextWindow bounds FetchContext reads around a hit.
	contextWindow = 50

	vectorField = "content_vector"
)

// Client runs hybrid (full-text + vector) retrieval against the two Azure
// AI Search indices: one document-level, one chunk-level. A failed embedding
// degrades to lexical-only instead of failing the query.
type Client struct {
	endpoint   string
	apiKey     string
	docIndex   string
	chunkIndex string
	threshold  float64
	embedder   ports.Embedder
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Config struct {
	Endpoint   string
	APIKey     string
	DocIndex   string
	ChunkIndex string
	// Threshold overrides the default similarity cut when > 0.
	Threshold float64
}

func New(cfg Config, embedder ports.Embedder, executor *resilience.Executor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultSimThreshold
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		docIndex:   cfg.DocIndex,
		chunkIndex: cfg.ChunkIndex,
		threshold:  cfg.Threshold,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
		logger:     logger,
	}
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchRequest struct {
	Search        string        `json:"search"`
	Filter        string        `json:"filter,omitempty"`
	Top           int           `json:"top"`
	Count         bool          `json:"count,omitempty"`
	OrderBy       string        `json:"orderby,omitempty"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type searchResponse struct {
	Count int64 `json:"@odata.count"`
	Value []struct {
		Score float64 `json:"@search.score"`

		ChunkID       string `json:"chunk_id"`
		DocumentoID   string `json:"documento_id"`
		NombreArchivo string `json:"nombre_archivo"`
		Archivo       string `json:"archivo"`
		ID            string `json:"id"`
		Pagina        int    `json:"pagina"`
		Parrafo       int    `json:"parrafo"`
		TextoChunk    string `json:"texto_chunk"`
		TipoDocumento string `json:"tipo_documento"`
		NUC           string `json:"nuc"`
		MetadatosNUC  string `json:"metadatos_nuc"`
		LugaresChunk  string `json:"lugares_chunk"`
		LugaresHechos string `json:"lugares_hechos"`
		PosicionEnDoc int    `json:"posicion_en_doc"`
		Analisis      string `json:"analisis"`
	} `json:"value"`
}

// SearchChunks runs hybrid retrieval over the chunk index. When the embedder
// is unavailable the same lexical query still runs and the result is marked
// LexicalOnly.
func (c *Client) SearchChunks(ctx context.Context, query string, f domain.FilterContext, k int) (domain.ChunkSearchResult, error) {
	if k <= 0 {
		k = 8
	}

	req := searchRequest{
		Search: query,
		Filter: f.IndexFilter(),
		Top:    k,
	}

	lexicalOnly := false
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		c.logger.Warn("embedding_unavailable_lexical_fallback", "error", err)
		lexicalOnly = true
	} else {
		req.VectorQueries = []vectorQuery{{Kind: "vector", Vector: vector, Fields: vectorField, K: k}}
	}

	var resp searchResponse
	if err := c.search(ctx, c.chunkIndex, req, &resp, "search chunks"); err != nil {
		return domain.ChunkSearchResult{}, err
	}

	hybrid := len(req.VectorQueries) > 0
	chunks := make([]domain.Chunk, 0, len(resp.Value))
	for _, v := range resp.Value {
		score := normalizeScore(v.Score, hybrid)
		if score < c.threshold {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ChunkID:       v.ChunkID,
			DocumentoID:   v.DocumentoID,
			NombreArchivo: domain.RepairText(v.NombreArchivo),
			Pagina:        v.Pagina,
			Parrafo:       v.Parrafo,
			TextoChunk:    domain.RepairText(v.TextoChunk),
			TipoDocumento: v.TipoDocumento,
			NUC:           v.NUC,
			LugaresChunk:  domain.RepairText(v.LugaresChunk),
			PosicionEnDoc: v.PosicionEnDoc,
			Relevancia:    score,
		})
	}
	return domain.ChunkSearchResult{Chunks: chunks, LexicalOnly: lexicalOnly}, nil
}

// SearchDocuments queries the document-level index for analytical summaries.
func (c *Client) SearchDocuments(ctx context.Context, query string, f domain.FilterContext, k int) ([]domain.DocumentHit, error) {
	if k <= 0 {
		k = 3
	}

	req := searchRequest{
		Search: query,
		Filter: f.IndexFilter(),
		Top:    k,
	}
	if vector, err := c.embedder.EmbedQuery(ctx, query); err == nil {
		req.VectorQueries = []vectorQuery{{Kind: "vector", Vector: vector, Fields: vectorField, K: k}}
	}

	var resp searchResponse
	if err := c.search(ctx, c.docIndex, req, &resp, "search documents"); err != nil {
		return nil, err
	}

	hybrid := len(req.VectorQueries) > 0
	hits := make([]domain.DocumentHit, 0, len(resp.Value))
	for _, v := range resp.Value {
		archivo := v.Archivo
		if archivo == "" {
			archivo = v.NombreArchivo
		}
		nuc := v.MetadatosNUC
		if nuc == "" {
			nuc = v.NUC
		}
		hits = append(hits, domain.DocumentHit{
			ID:            v.ID,
			Archivo:       domain.RepairText(archivo),
			NUC:           nuc,
			TipoDocumento: v.TipoDocumento,
			LugaresHechos: domain.RepairText(v.LugaresHechos),
			Analisis:      domain.RepairText(v.Analisis),
			Relevancia:    normalizeScore(v.Score, hybrid),
		})
	}
	return hits, nil
}

// FetchContext reads the chunks surrounding a hit, ordered by their position
// in the document, for the expand-context view. pagina <= 0 means no page
// filter: the first chunks of the whole document, still capped at the window.
func (c *Client) FetchContext(ctx context.Context, documentoID string, pagina int) ([]domain.Chunk, error) {
	if documentoID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch context", fmt.Errorf("documento_id is required"))
	}

	filter := fmt.Sprintf("documento_id eq '%s'", strings.ReplaceAll(documentoID, "'", "''"))
	if pagina > 0 {
		filter += fmt.Sprintf(" and pagina ge %d and pagina le %d", pagina-1, pagina+1)
	}
	req := searchRequest{
		Search:  "*",
		Filter:  filter,
		Top:     contextWindow,
		OrderBy: "posicion_en_doc asc",
	}

	var resp searchResponse
	if err := c.search(ctx, c.chunkIndex, req, &resp, "fetch context"); err != nil {
		return nil, err
	}

	chunks := make([]domain.Chunk, 0, len(resp.Value))
	for _, v := range resp.Value {
		chunks = append(chunks, domain.Chunk{
			ChunkID:       v.ChunkID,
			DocumentoID:   v.DocumentoID,
			NombreArchivo: domain.RepairText(v.NombreArchivo),
			Pagina:        v.Pagina,
			Parrafo:       v.Parrafo,
			TextoChunk:    domain.RepairText(v.TextoChunk),
			PosicionEnDoc: v.PosicionEnDoc,
		})
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].PosicionEnDoc < chunks[j].PosicionEnDoc
	})
	return chunks, nil
}

// Health counts the chunk index and probes whether vector search is wired.
func (c *Client) Health(ctx context.Context) (domain.SearchHealth, error) {
	req := searchRequest{Search: "*", Top: 0, Count: true}

	var resp searchResponse
	if err := c.search(ctx, c.chunkIndex, req, &resp, "index health"); err != nil {
		return domain.SearchHealth{}, err
	}

	health := domain.SearchHealth{
		IndexAvailable: true,
		TotalDocs:      resp.Count,
	}
	if _, err := c.embedder.EmbedQuery(ctx, "ping"); err == nil {
		health.VectorEnabled = true
	}
	return health, nil
}

func (c *Client) search(ctx context.Context, index string, payload searchRequest, out *searchResponse, operation string) error {
	err := c.executor.Execute(ctx, "search_"+index, func(ctx context.Context) error {
		return c.postSearch(ctx, index, payload, out, operation)
	}, classifySearchError)
	if err != nil {
		return wrapSearchError(operation, err)
	}
	return nil
}

func (c *Client) postSearch(ctx context.Context, index string, payload searchRequest, out *searchResponse, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", c.endpoint, index, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// normalizeScore maps the backend score into [0,1] so the similarity
// threshold is meaningful. Hybrid requests come back RRF-fused and bounded
// by rrfMaxScore, so they are scaled against it; lexical BM25 scores are
// unbounded above and only get clamped.
func normalizeScore(score float64, hybrid bool) float64 {
	if hybrid {
		score /= rrfMaxScore
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var _ ports.ChunkSearcher = (*Client)(nil)
