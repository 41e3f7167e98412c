package embedding

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

type providerFake struct {
	vector []float32
	err    error
	calls  int
}

func (f *providerFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func TestCachedEmbedderHitsSkipProvider(t *testing.T) {
	provider := &providerFake{vector: []float32{0.1, 0.2}}
	cached, err := NewCachedEmbedder(provider, 16, "", 0, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		vec, err := cached.EmbedQuery(context.Background(), "misma consulta")
		if err != nil {
			t.Fatalf("EmbedQuery() error = %v", err)
		}
		if len(vec) != 2 {
			t.Fatalf("vector = %v", vec)
		}
	}

	if provider.calls != 1 {
		t.Fatalf("provider called %d times, want 1", provider.calls)
	}
	hits, misses := cached.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 2/1", hits, misses)
	}
}

func TestCachedEmbedderObserverSeesOutcomes(t *testing.T) {
	provider := &providerFake{vector: []float32{0.1}}
	cached, err := NewCachedEmbedder(provider, 16, "", 0, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}

	var outcomes []bool
	cached.SetObserver(func(hit bool) { outcomes = append(outcomes, hit) })

	for i := 0; i < 3; i++ {
		if _, err := cached.EmbedQuery(context.Background(), "misma consulta"); err != nil {
			t.Fatalf("EmbedQuery() error = %v", err)
		}
	}

	if len(outcomes) != 3 || outcomes[0] || !outcomes[1] || !outcomes[2] {
		t.Fatalf("outcomes = %v, want miss then two hits", outcomes)
	}
}

func TestCachedEmbedderDistinctTextsMiss(t *testing.T) {
	provider := &providerFake{vector: []float32{0.1}}
	cached, err := NewCachedEmbedder(provider, 16, "", 0, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}

	if _, err := cached.EmbedQuery(context.Background(), "primera"); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.EmbedQuery(context.Background(), "segunda"); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2", provider.calls)
	}
}

func TestCachedEmbedderErrorsAreNotCached(t *testing.T) {
	provider := &providerFake{err: errors.New("provider down")}
	cached, err := NewCachedEmbedder(provider, 16, "", 0, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}

	if _, err := cached.EmbedQuery(context.Background(), "consulta"); err == nil {
		t.Fatal("expected provider error")
	}

	provider.err = nil
	provider.vector = []float32{0.5}
	vec, err := cached.EmbedQuery(context.Background(), "consulta")
	if err != nil {
		t.Fatalf("EmbedQuery() after recovery error = %v", err)
	}
	if len(vec) != 1 {
		t.Fatalf("vector = %v", vec)
	}
	if provider.calls != 2 {
		t.Fatalf("failed lookups must not populate the cache, calls = %d", provider.calls)
	}
}

func TestCachedEmbedderSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.gob")
	provider := &providerFake{vector: []float32{0.7}}

	first, err := NewCachedEmbedder(provider, 16, path, 0, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	if _, err := first.EmbedQuery(context.Background(), "consulta persistida"); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := NewCachedEmbedder(provider, 16, path, 0, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewCachedEmbedder() reload error = %v", err)
	}
	vec, err := second.EmbedQuery(context.Background(), "consulta persistida")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 1 || vec[0] != 0.7 {
		t.Fatalf("vector = %v", vec)
	}
	if provider.calls != 1 {
		t.Fatalf("snapshot reload must serve from cache, provider calls = %d", provider.calls)
	}
}
