package azopenai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/resilience"
)

func newTestClient(serverURL string) *Client {
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: 1,
		BreakerEnabled:   false,
	})
	return New(Config{
		Endpoint:        serverURL,
		APIKey:          "test-key",
		ChatDeployment:  "gpt-4o",
		EmbedDeployment: "text-embedding-3-small",
	}, executor)
}

func TestGenerateSendsDeploymentAndKey(t *testing.T) {
	var gotPath, gotKey string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"Hay 45 víctimas [CITA-1]."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":420,"completion_tokens":31}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	res, err := client.Generate(context.Background(), "pregunta con evidencia")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gotPath != "/openai/deployments/gpt-4o/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api-key header = %q", gotKey)
	}
	if res.Text != "Hay 45 víctimas [CITA-1]." || res.PromptTokens != 420 || res.CompletionTokens != 31 {
		t.Fatalf("result = %+v", res)
	}
	msgs, _ := gotPayload["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", gotPayload["messages"])
	}
}

func TestGenerateContentFilterIsContentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"content_filter","message":"filtered"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "pregunta")
	if !domain.IsKind(err, domain.ErrLLMContent) {
		t.Fatalf("expected ErrLLMContent, got %v", err)
	}
}

func TestGenerateFinishReasonContentFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "pregunta")
	if !domain.IsKind(err, domain.ErrLLMContent) {
		t.Fatalf("expected ErrLLMContent, got %v", err)
	}
}

func TestGenerateServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "deployment overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Generate(context.Background(), "pregunta")
	if !domain.IsKind(err, domain.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "deployment overloaded") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestEmbedQueryReturnsVector(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	vec, err := client.EmbedQuery(context.Background(), "texto")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if gotPath != "/openai/deployments/text-embedding-3-small/embeddings" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("vector = %v", vec)
	}
}

func TestEmbedQueryUsesDedicatedEndpoint(t *testing.T) {
	chatServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("chat endpoint must not receive embeddings, got %s", r.URL.Path)
	}))
	defer chatServer.Close()

	var gotPath string
	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.4]}]}`))
	}))
	defer embedServer.Close()

	executor := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1, BreakerEnabled: false})
	client := New(Config{
		Endpoint:        chatServer.URL,
		EmbedEndpoint:   embedServer.URL,
		APIKey:          "test-key",
		ChatDeployment:  "gpt-4o",
		EmbedDeployment: "text-embedding-3-small",
	}, executor)

	vec, err := client.EmbedQuery(context.Background(), "texto")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if gotPath != "/openai/deployments/text-embedding-3-small/embeddings" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(vec) != 1 {
		t.Fatalf("vector = %v", vec)
	}
}

func TestEmbedQueryFailureIsEmbeddingUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.EmbedQuery(context.Background(), "texto")
	if !domain.IsKind(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}
