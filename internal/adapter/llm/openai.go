package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"mmrag/internal/port"
)

const DefaultSystemPrompt = "You are a helpful assistant."

// BuildPrompt renders the user message sent alongside the retrieved context.
func BuildPrompt(query, retrieved string) string {
	return fmt.Sprintf("Answer the question: %s\n\nBased on the following:\n\n%s", query, retrieved)
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stats tracks usage across calls.
type Stats struct {
	TotalCalls        int
	TotalInputTokens  int
	TotalOutputTokens int
}

type Config struct {
	APIKeyEnv    string
	Model        string
	BaseURL      string
	Temperature  float64
	SystemPrompt string
	Timeout      time.Duration
}

// OpenAIGenerator answers through an OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	baseURL      string
	apiKey       string
	model        string
	temperature  float64
	systemPrompt string
	client       *http.Client

	mu    sync.Mutex
	stats Stats
}

var (
	_ port.Generator = (*OpenAIGenerator)(nil)
	_ port.Completer = (*OpenAIGenerator)(nil)
)

func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found. Set %s environment variable", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &OpenAIGenerator{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       apiKey,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		client:       &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, query, retrieved string) (string, error) {
	return g.Chat(ctx, []ChatMessage{
		{Role: "system", Content: g.systemPrompt},
		{Role: "user", Content: BuildPrompt(query, retrieved)},
	})
}

func (g *OpenAIGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	return g.Chat(ctx, []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	})
}

// Chat sends a chat completion request and returns the first choice.
func (g *OpenAIGenerator) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	jsonData, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	g.mu.Lock()
	g.stats.TotalCalls++
	g.stats.TotalInputTokens += chatResp.Usage.PromptTokens
	g.stats.TotalOutputTokens += chatResp.Usage.CompletionTokens
	g.mu.Unlock()

	return chatResp.Choices[0].Message.Content, nil
}

// GetStats returns the current usage statistics.
func (g *OpenAIGenerator) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *OpenAIGenerator) ModelName() string {
	return g.model
}

// EchoGenerator answers offline by returning the prompt it would have sent.
type EchoGenerator struct{}

var _ port.Generator = EchoGenerator{}

func (EchoGenerator) Generate(ctx context.Context, query, retrieved string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return BuildPrompt(query, retrieved), nil
}

func (EchoGenerator) ModelName() string {
	return "echo"
}
