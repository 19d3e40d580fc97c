package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/resilience"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Respond concisely and use natural language."

// FallbackReply is spoken when every chat attempt fails; the pipeline
// never aborts silently.
const FallbackReply = "I'm having trouble thinking right now — please try again"

// ChatClient calls the multimodal chat completion service with bounded
// retries, exponential backoff, and an optional fallback model. Auth
// failures are surfaced immediately and never retried.
type ChatClient struct {
	client  *resty.Client
	breaker *resilience.Breaker
	cfg     config.GroqConfig
	logger  *logging.Logger
	metrics *monitoring.Metrics

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewChatClient creates the chat completion client.
func NewChatClient(cfg config.GroqConfig, logger *logging.Logger, metrics *monitoring.Metrics) *ChatClient {
	return &ChatClient{
		client:  newRestyClient(cfg),
		breaker: newBreaker("groq-llm"),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		sleep:   time.Sleep,
	}
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends transcript + optional JPEG image + history and returns
// the assistant reply.
func (c *ChatClient) Complete(ctx context.Context, text string, image []byte, history []session.ConversationTurn) (string, error) {
	messages := []chatMessage{{Role: "system", Content: defaultSystemPrompt}}
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}

	var current []contentPart
	if len(image) > 0 {
		encoded := base64.StdEncoding.EncodeToString(image)
		current = append(current, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + encoded},
		})
	}
	current = append(current, contentPart{Type: "text", Text: text})
	messages = append(messages, chatMessage{Role: "user", Content: current})

	req := chatRequest{
		Model:       c.cfg.LLMModel,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   1024,
	}

	reply, err := c.completeWithRetry(ctx, req)
	if err == nil {
		return reply, nil
	}
	if err == ErrAuth || c.cfg.FallbackModel == "" {
		return "", err
	}

	// One shot on the fallback model after the primary is exhausted.
	c.logger.Info("Trying fallback model", zap.String("model", c.cfg.FallbackModel))
	req.Model = c.cfg.FallbackModel
	reply, fbErr := c.post(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("fallback model failed after %w", err)
	}
	return reply, nil
}

func (c *ChatClient) completeWithRetry(ctx context.Context, req chatRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoff(attempt - 1))
		}

		reply, err := c.post(ctx, req)
		if err == nil {
			return reply, nil
		}
		if err == ErrAuth {
			c.logger.Error("Chat authentication failed, not retrying")
			return "", err
		}
		lastErr = err
		c.logger.Warn("Chat attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("chat failed after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

func (c *ChatClient) post(ctx context.Context, req chatRequest) (string, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	timer := monitoring.NewTimer(c.metrics, "llm")
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("/chat/completions")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return nil, ErrAuth
		}
		if resp.IsError() {
			return nil, fmt.Errorf("chat completion failed: %s", resp.Status())
		}

		var parsed chatResponse
		if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode chat response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("no choices in chat response")
		}
		return parsed.Choices[0].Message.Content, nil
	})
	if err != nil {
		timer.Stop("error")
		return "", err
	}
	timer.Stop("ok")
	return result.(string), nil
}
