package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stellarlinkco/larkmind/internal/config"
)

const profileSystemPrompt = `You are a user-profile analyst. From the conversation, extract and update the user's personal information.

Extract only information the user states explicitly. Do not speculate. Leave unknown fields null.

Return strict JSON, no explanation text:
{
    "user_name": "name or null",
    "age": number or null,
    "interests": ["..."] or [],
    "home": "location or null",
    "occupation": "occupation or null",
    "conversation_preferences": ["..."] or [],
    "personality_traits": ["..."] or [],
    "work_context": "description or null",
    "communication_style": "style or null",
    "timezone": "timezone or null",
    "language_preference": "language or null"
}`

const memorySystemPrompt = `You are a memory curator. Identify facts in the conversation worth remembering long-term and create structured memory entries.

memory_type must be one of: %s

For each durable fact, produce:
- memory_type: one of the types above
- context: where/why this was learned, including any caveats
- content: the fact itself
- importance: integer score 1-10
- tags: related tags

Return a strict JSON array, no explanation text:
[
    {"memory_type": "preference", "context": "...", "content": "...", "importance": 7, "tags": ["..."]}
]

Return [] if nothing is worth remembering.`

// LLMClient performs the two extraction calls. Implementations must bound
// each call with a timeout.
type LLMClient interface {
	ExtractProfile(ctx context.Context, currentProfile, conversation string) (*ProfilePatch, error)
	ExtractMemories(ctx context.Context, conversation string) ([]Entry, error)
}

type llmClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewLLMClient(cfg *config.Config) LLMClient {
	timeout := 30 * time.Second
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.Memory.LLMTimeout)); err == nil && d > 0 {
		timeout = d
	}
	c := &llmClient{
		model:      cfg.Memory.Model,
		maxTokens:  cfg.Memory.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.Memory.Provider != nil {
		c.apiKey = cfg.Memory.Provider.APIKey
		c.baseURL = cfg.Memory.Provider.BaseURL
	}
	return c
}

func (c *llmClient) ExtractProfile(ctx context.Context, currentProfile, conversation string) (*ProfilePatch, error) {
	userPrompt := fmt.Sprintf("Current profile:\n%s\n\nLatest conversation:\n%s\n\nAnalyze and update the profile:",
		emptyFallback(currentProfile, "none"), conversation)

	resp, err := c.complete(ctx, profileSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("extract profile: %w", err)
	}

	raw := extractJSONObject(resp)
	if raw == "" {
		return nil, fmt.Errorf("extract profile: no JSON object in response")
	}
	var patch ProfilePatch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		return nil, fmt.Errorf("parse profile response: %w", err)
	}
	return &patch, nil
}

func (c *llmClient) ExtractMemories(ctx context.Context, conversation string) ([]Entry, error) {
	types := make([]string, 0, len(ValidMemoryTypes))
	for t := range ValidMemoryTypes {
		types = append(types, t)
	}
	sysPrompt := fmt.Sprintf(memorySystemPrompt, strings.Join(sortedStrings(types), ", "))

	resp, err := c.complete(ctx, sysPrompt, "Extract memory entries from this conversation:\n\n"+conversation)
	if err != nil {
		return nil, fmt.Errorf("extract memories: %w", err)
	}

	raw := extractJSONArray(resp)
	if raw == "" {
		return nil, fmt.Errorf("extract memories: no JSON array in response")
	}
	var items []struct {
		MemoryType string   `json:"memory_type"`
		Context    string   `json:"context"`
		Content    string   `json:"content"`
		Importance int      `json:"importance"`
		Tags       []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("parse memory response: %w", err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			MemoryType: item.MemoryType,
			Context:    item.Context,
			Content:    item.Content,
			Importance: item.Importance,
			Tags:       item.Tags,
		})
	}
	return entries, nil
}

func (c *llmClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing memory api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("missing memory base url")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing memory model")
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"max_tokens":  c.maxTokens,
		"temperature": 0.1,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("memory model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

var (
	jsonObjectRegex = regexp.MustCompile(`(?s)\{.*\}`)
	jsonArrayRegex  = regexp.MustCompile(`(?s)\[.*\]`)
)

// extractJSONObject pulls the first JSON object out of a response that may be
// wrapped in code fences or explanation text.
func extractJSONObject(response string) string {
	return extractJSON(response, jsonObjectRegex)
}

func extractJSONArray(response string) string {
	return extractJSON(response, jsonArrayRegex)
}

func extractJSON(response string, pattern *regexp.Regexp) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx >= 0 {
		rest := response[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			response = strings.TrimSpace(rest[:end])
		}
	} else if idx := strings.Index(response, "```"); idx >= 0 {
		rest := response[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			response = strings.TrimSpace(rest[:end])
		}
	}

	return pattern.FindString(response)
}

func emptyFallback(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
