package cognitive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/resilience"
)

type embedderFake struct {
	vector []float32
	err    error
	calls  int
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func newTestSearchClient(serverURL string, embedder *embedderFake) *Client {
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: 1,
		BreakerEnabled:   false,
	})
	return New(Config{
		Endpoint:   serverURL,
		APIKey:     "search-key",
		DocIndex:   "expedientes-docs",
		ChunkIndex: "expedientes-chunks",
	}, embedder, executor, slog.New(slog.DiscardHandler))
}

func TestSearchChunksHybridRequest(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"value":[
			{"@search.score":0.03279,"chunk_id":"c1","documento_id":"d1","nombre_archivo":"sentencia001","pagina":4,"parrafo":2,"texto_chunk":"JosÃ© fue desplazado","nuc":"nuc1"},
			{"@search.score":0.03226,"chunk_id":"c2","documento_id":"d2","nombre_archivo":"auto002","pagina":1,"parrafo":1,"texto_chunk":"desplazamiento en Turbo"},
			{"@search.score":0.01639,"chunk_id":"c3","documento_id":"d3","nombre_archivo":"oficio003","pagina":2,"parrafo":1,"texto_chunk":"irrelevante"}
		]}`))
	}))
	defer server.Close()

	embedder := &embedderFake{vector: []float32{0.1, 0.2}}
	client := newTestSearchClient(server.URL, embedder)

	res, err := client.SearchChunks(context.Background(), "desplazamiento forzado",
		domain.FilterContext{NUCs: []string{"nuc1"}}, 8)
	if err != nil {
		t.Fatalf("SearchChunks() error = %v", err)
	}

	if gotPath != "/indexes/expedientes-chunks/docs/search" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "search-key" {
		t.Fatalf("api-key = %q", gotKey)
	}
	if gotBody["filter"] != "nuc eq 'nuc1'" {
		t.Fatalf("filter = %v", gotBody["filter"])
	}
	vqs, ok := gotBody["vectorQueries"].([]any)
	if !ok || len(vqs) != 1 {
		t.Fatal("hybrid request must carry vectorQueries")
	}
	vq, _ := vqs[0].(map[string]any)
	if vq["fields"] != "content_vector" {
		t.Fatalf("vector fields = %v, want content_vector", vq["fields"])
	}
	if res.LexicalOnly {
		t.Fatal("successful embedding must not mark lexical-only")
	}
	// RRF-fused scores top out at 2/61; both-ranking hits must survive the
	// threshold while a single-ranking hit (1/61) is dropped.
	if len(res.Chunks) != 2 {
		t.Fatalf("want the two fused hits, got %d", len(res.Chunks))
	}
	if res.Chunks[0].TextoChunk != "José fue desplazado" {
		t.Fatalf("mojibake not repaired: %q", res.Chunks[0].TextoChunk)
	}
	if res.Chunks[0].Relevancia < 0.95 || res.Chunks[1].Relevancia < 0.9 {
		t.Fatalf("relevancia not normalized: %v / %v", res.Chunks[0].Relevancia, res.Chunks[1].Relevancia)
	}
}

func TestSearchChunksLexicalFallback(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"value":[{"@search.score":0.88,"chunk_id":"c1","texto_chunk":"hecho"}]}`))
	}))
	defer server.Close()

	embedder := &embedderFake{err: domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", errors.New("quota"))}
	client := newTestSearchClient(server.URL, embedder)

	res, err := client.SearchChunks(context.Background(), "consulta", domain.FilterContext{}, 8)
	if err != nil {
		t.Fatalf("embedding outage must degrade, not fail: %v", err)
	}
	if !res.LexicalOnly {
		t.Fatal("expected lexical-only degradation")
	}
	if _, ok := gotBody["vectorQueries"]; ok {
		t.Fatal("lexical fallback must not send vectorQueries")
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("lexical results must still come back, got %d", len(res.Chunks))
	}
}

func TestSearchChunksIndexDownIsBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index out of capacity", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestSearchClient(server.URL, &embedderFake{vector: []float32{0.1}})
	_, err := client.SearchChunks(context.Background(), "consulta", domain.FilterContext{}, 8)
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSearchDocumentsUsesDocIndex(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"value":[{"@search.score":0.8,"id":"d1","archivo":"sentencia001","metadatos_nuc":"nuc1","analisis":"resumen"}]}`))
	}))
	defer server.Close()

	client := newTestSearchClient(server.URL, &embedderFake{vector: []float32{0.1}})
	hits, err := client.SearchDocuments(context.Background(), "consulta", domain.FilterContext{}, 3)
	if err != nil {
		t.Fatalf("SearchDocuments() error = %v", err)
	}
	if gotPath != "/indexes/expedientes-docs/docs/search" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(hits) != 1 || hits[0].Archivo != "sentencia001" || hits[0].NUC != "nuc1" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestFetchContextOrdersByPosition(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"value":[
			{"chunk_id":"c3","posicion_en_doc":12,"texto_chunk":"tercero"},
			{"chunk_id":"c1","posicion_en_doc":10,"texto_chunk":"primero"},
			{"chunk_id":"c2","posicion_en_doc":11,"texto_chunk":"segundo"}
		]}`))
	}))
	defer server.Close()

	client := newTestSearchClient(server.URL, &embedderFake{})
	chunks, err := client.FetchContext(context.Background(), "d1", 4)
	if err != nil {
		t.Fatalf("FetchContext() error = %v", err)
	}
	filter, _ := gotBody["filter"].(string)
	if !strings.Contains(filter, "documento_id eq 'd1'") || !strings.Contains(filter, "pagina ge 3") {
		t.Fatalf("filter = %q", filter)
	}
	if len(chunks) != 3 || chunks[0].ChunkID != "c1" || chunks[2].ChunkID != "c3" {
		t.Fatalf("chunks out of order: %+v", chunks)
	}
}

func TestFetchContextWithoutPageReadsWholeDocument(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"value":[{"chunk_id":"c1","posicion_en_doc":1,"texto_chunk":"inicio"}]}`))
	}))
	defer server.Close()

	client := newTestSearchClient(server.URL, &embedderFake{})
	chunks, err := client.FetchContext(context.Background(), "d1", 0)
	if err != nil {
		t.Fatalf("FetchContext() error = %v", err)
	}
	filter, _ := gotBody["filter"].(string)
	if filter != "documento_id eq 'd1'" {
		t.Fatalf("no-page read must not filter by pagina, filter = %q", filter)
	}
	if len(chunks) != 1 || chunks[0].ChunkID != "c1" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestFetchContextRequiresDocumentID(t *testing.T) {
	client := newTestSearchClient("http://search.invalid", &embedderFake{})
	_, err := client.FetchContext(context.Background(), "", 1)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHealthReportsCountAndVectorFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"@odata.count":10542,"value":[]}`))
	}))
	defer server.Close()

	client := newTestSearchClient(server.URL, &embedderFake{vector: []float32{0.1}})
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !health.IndexAvailable || !health.VectorEnabled || health.TotalDocs != 10542 {
		t.Fatalf("health = %+v", health)
	}
}

func TestHealthVectorDisabledOnEmbedderOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"@odata.count":5,"value":[]}`))
	}))
	defer server.Close()

	embedder := &embedderFake{err: errors.New("down")}
	client := newTestSearchClient(server.URL, embedder)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.VectorEnabled {
		t.Fatal("vector flag must drop when the embedder is down")
	}
}
