package advice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/krau/agridoctor/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const systemPrompt = "You are a helpful agriculture expert."

var ErrEmptyResponse = errors.New("empty response from model")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer sends one chat-completion request and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Client struct {
	backend Completer
	name    string
}

func NewClient(backend Completer, name string) *Client {
	return &Client{backend: backend, name: name}
}

// New builds the client for the provider named in cfg.
func New(cfg config.Config) (*Client, error) {
	httpClient := &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second}
	switch cfg.Provider {
	case config.ProviderGroq:
		return NewClient(NewOpenAICompatible(cfg.LLMBaseURL, cfg.APIKey(), cfg.LLMModel, httpClient), config.ProviderGroq), nil
	case config.ProviderAnthropic:
		return NewClient(NewAnthropic(cfg.APIKey(), cfg.LLMModel, cfg.LLMMaxTokens, httpClient), config.ProviderAnthropic), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// AdvicePrompt is the report request sent after a diagnosis.
func AdvicePrompt(disease, crop string) string {
	return fmt.Sprintf(`
You are an expert agriculturalist.
The user has detected %s on their %s plant.
Provide a concise report:
1. **What is it?** (1 sentence explanation).
2. **Treatment:** List 3 effective treatments.
3. **Prevention:** One simple tip.
Keep it professional but easy to understand.
`, disease, crop)
}

// Advice asks for a short report on disease affecting crop.
func (c *Client) Advice(ctx context.Context, disease, crop string) (string, error) {
	slog.Info("Requesting advice", slog.String("provider", c.name), slog.String("disease", disease), slog.String("crop", crop))
	return c.complete(ctx, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: AdvicePrompt(disease, crop)},
	})
}

// FollowUp sends prompt as a single user message.
func (c *Client) FollowUp(ctx context.Context, prompt string) (string, error) {
	slog.Info("Requesting follow-up", slog.String("provider", c.name), slog.Int("prompt_len", len(prompt)))
	return c.complete(ctx, []Message{{Role: RoleUser, Content: prompt}})
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	reply, err := c.backend.Complete(ctx, messages)
	if err != nil {
		slog.Error("Chat completion failed", slog.String("provider", c.name), slog.String("error", err.Error()))
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}
