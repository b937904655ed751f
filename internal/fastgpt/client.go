package fastgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/larkmind/internal/config"
)

// Client talks to a FastGPT application over its OpenAI-compatible chat API.
// The app key selects the FastGPT application; chatId keeps FastGPT's own
// conversation state across turns.
type Client struct {
	baseURL    string
	appKey     string
	httpClient *http.Client
}

func NewClient(cfg config.FastGPTConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("fastgpt base url is required")
	}
	if strings.TrimSpace(cfg.AppKey) == "" {
		return nil, fmt.Errorf("fastgpt app key is required")
	}
	return &Client{
		baseURL:    baseURL,
		appKey:     cfg.AppKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type chatRequest struct {
	ChatID   string        `json:"chatId,omitempty"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one question and returns the generated reply. A non-empty
// userContext is prepended as a system message so the application can
// personalize its answer.
func (c *Client) Chat(ctx context.Context, chatID, question, userContext string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(userContext) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: userContext})
	}
	messages = append(messages, chatMessage{Role: "user", Content: question})

	payload, err := json.Marshal(chatRequest{
		ChatID:   chatID,
		Stream:   false,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.appKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fastgpt http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in fastgpt response")
	}
	reply := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("empty reply from fastgpt")
	}
	return reply, nil
}
