package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/resilience"
)

// Client talks to an OpenAI-compatible API for chat completions and
// embeddings. Completions run at temperature zero so the composer output
// stays reproducible against the cited evidence.
type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

type Options struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbedModel     string
	Timeout        time.Duration
	RequestsPerSec float64
}

func New(opts Options, executor *resilience.Executor) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		limiter:    limiter,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one system+user exchange and returns the model text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	request := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
	}

	var response chatResponse
	if err := c.call(ctx, "chat_completion", "/v1/chat/completions", request, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := embedRequest{Model: c.embedModel, Input: texts}
	var response embedResponse
	if err := c.call(ctx, "embed", "/v1/embeddings", request, &response); err != nil {
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(response.Data), len(texts))
	}

	// The API does not guarantee input order.
	vectors := make([][]float32, len(texts))
	for _, d := range response.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, func(ctx context.Context) error {
			return c.postJSON(ctx, path, payload, out, operation)
		}, classifyModelError)
	} else {
		err = c.postJSON(ctx, path, payload, out, operation)
	}
	return markTemporary(operation, err)
}
