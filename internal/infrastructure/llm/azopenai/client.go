package azopenai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/resilience"
)

const (
	defaultAPIVersion = "2024-02-01"
	embeddingDims     = 1536
	maxOutputTokens   = 1500
)

// Client talks to one Azure OpenAI resource with two deployments: chat
// completions for synthesis and text embeddings for retrieval.
type Client struct {
	endpoint        string
	embedEndpoint   string
	apiKey          string
	chatDeployment  string
	embedDeployment string
	apiVersion      string
	temperature     float64
	httpClient      *http.Client
	executor        *resilience.Executor
}

type Config struct {
	Endpoint string
	// EmbedEndpoint targets a separate Azure resource for embeddings; empty
	// means the chat endpoint serves both deployments.
	EmbedEndpoint   string
	APIKey          string
	ChatDeployment  string
	EmbedDeployment string
	APIVersion      string
	Temperature     float64
}

func New(cfg Config, executor *resilience.Executor) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.EmbedEndpoint == "" {
		cfg.EmbedEndpoint = cfg.Endpoint
	}
	return &Client{
		endpoint:        strings.TrimRight(cfg.Endpoint, "/"),
		embedEndpoint:   strings.TrimRight(cfg.EmbedEndpoint, "/"),
		apiKey:          cfg.APIKey,
		chatDeployment:  cfg.ChatDeployment,
		embedDeployment: cfg.EmbedDeployment,
		apiVersion:      cfg.APIVersion,
		temperature:     cfg.Temperature,
		httpClient:      &http.Client{Timeout: 120 * time.Second},
		executor:        executor,
	}
}

func (c *Client) deploymentURL(endpoint, deployment, operation string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		endpoint, deployment, operation, c.apiVersion)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate runs one chat completion. Transport-level retries live in the
// resilience executor; the pipeline decides on semantic re-prompts.
func (c *Client) Generate(ctx context.Context, prompt string) (ports.LLMResult, error) {
	payload := map[string]any{
		"messages": []chatMessage{
			{Role: "user", Content: prompt},
		},
		"temperature": c.temperature,
		"max_tokens":  maxOutputTokens,
	}

	var resp chatResponse
	err := c.executor.Execute(ctx, "chat_completion", func(ctx context.Context) error {
		return c.postJSON(ctx, c.deploymentURL(c.endpoint, c.chatDeployment, "chat/completions"), payload, &resp, "chat completion")
	}, classifyAzureError)
	if err != nil {
		return ports.LLMResult{}, wrapKind("generate answer", err, domain.ErrLLMUnavailable)
	}

	if len(resp.Choices) == 0 {
		return ports.LLMResult{}, domain.WrapError(domain.ErrLLMContent, "generate answer",
			fmt.Errorf("empty choices in completion response"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return ports.LLMResult{}, domain.WrapError(domain.ErrLLMContent, "generate answer",
			fmt.Errorf("completion stopped by content filter"))
	}

	return ports.LLMResult{
		Text:             choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	payload := map[string]any{
		"messages":   []chatMessage{{Role: "user", Content: "ping"}},
		"max_tokens": 1,
	}
	var resp chatResponse
	err := c.postJSON(ctx, c.deploymentURL(c.endpoint, c.chatDeployment, "chat/completions"), payload, &resp, "ping")
	return wrapKind("ping llm", err, domain.ErrLLMUnavailable)
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedQuery returns the 1536-dim vector for text. Callers treat any error
// as "semantic unavailable" and degrade to lexical retrieval.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"input":      text,
		"dimensions": embeddingDims,
	}

	var resp embeddingResponse
	err := c.executor.Execute(ctx, "embed_query", func(ctx context.Context) error {
		return c.postJSON(ctx, c.deploymentURL(c.embedEndpoint, c.embedDeployment, "embeddings"), payload, &resp, "embeddings")
	}, classifyAzureError)
	if err != nil {
		return nil, wrapKind("embed query", err, domain.ErrEmbeddingUnavailable)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query",
			fmt.Errorf("empty embedding result"))
	}
	return resp.Data[0].Embedding, nil
}

var (
	_ ports.AnswerGenerator = (*Client)(nil)
	_ ports.Embedder        = (*Client)(nil)
)
