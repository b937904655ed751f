package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stellarlinkco/larkmind/internal/config"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"user_name": "Alice"}`, `{"user_name": "Alice"}`},
		{"json fence", "Here you go:\n```json\n{\"age\": 30}\n```", `{"age": 30}`},
		{"plain fence", "```\n{\"age\": 30}\n```", `{"age": 30}`},
		{"leading prose", "Sure! The result is {\"home\": \"Beijing\"} as requested", `{"home": "Beijing"}`},
		{"no object", "nothing to see here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONObject(tt.in); got != tt.want {
				t.Errorf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	in := "```json\n[{\"memory_type\": \"skill\", \"content\": \"go\"}]\n```"
	want := `[{"memory_type": "skill", "content": "go"}]`
	if got := extractJSONArray(in); got != want {
		t.Errorf("extractJSONArray = %q, want %q", got, want)
	}
	if got := extractJSONArray("no array"); got != "" {
		t.Errorf("extractJSONArray(no array) = %q, want empty", got)
	}
	if got := extractJSONArray("[]"); got != "[]" {
		t.Errorf("extractJSONArray([]) = %q, want []", got)
	}
}

func newLLMTestServer(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if capture != nil {
			_ = json.NewDecoder(r.Body).Decode(capture)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testLLMConfig(baseURL string) *config.Config {
	return &config.Config{
		Memory: config.MemoryConfig{
			Model:      "gpt-4o-mini",
			MaxTokens:  1000,
			LLMTimeout: "5s",
			Provider: &config.ProviderConfig{
				APIKey:  "test-key",
				BaseURL: baseURL,
			},
		},
	}
}

func TestLLMExtractProfile(t *testing.T) {
	reply := "```json\n{\"user_name\": \"Alice\", \"age\": 30, \"interests\": [\"hiking\"]}\n```"
	var captured map[string]any
	srv := newLLMTestServer(t, reply, &captured)
	defer srv.Close()

	client := NewLLMClient(testLLMConfig(srv.URL))
	patch, err := client.ExtractProfile(context.Background(), "none", "I'm Alice, 30, into hiking")
	if err != nil {
		t.Fatalf("ExtractProfile: %v", err)
	}
	if patch.Name == nil || *patch.Name != "Alice" {
		t.Errorf("Name = %v", patch.Name)
	}
	if patch.Age == nil || *patch.Age != 30 {
		t.Errorf("Age = %v", patch.Age)
	}
	if len(patch.Interests) != 1 || patch.Interests[0] != "hiking" {
		t.Errorf("Interests = %v", patch.Interests)
	}

	if captured["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v", captured["model"])
	}
	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", captured["messages"])
	}
}

func TestLLMExtractMemories(t *testing.T) {
	reply := `[{"memory_type": "preference", "context": "coffee chat", "content": "likes espresso", "importance": 7, "tags": ["coffee"]}]`
	srv := newLLMTestServer(t, reply, nil)
	defer srv.Close()

	client := NewLLMClient(testLLMConfig(srv.URL))
	entries, err := client.ExtractMemories(context.Background(), "I drink espresso every day")
	if err != nil {
		t.Fatalf("ExtractMemories: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d", len(entries))
	}
	e := entries[0]
	if e.MemoryType != "preference" || e.Content != "likes espresso" || e.Importance != 7 {
		t.Errorf("entry = %+v", e)
	}
}

func TestLLMExtractMemoriesEmptyArray(t *testing.T) {
	srv := newLLMTestServer(t, "[]", nil)
	defer srv.Close()

	client := NewLLMClient(testLLMConfig(srv.URL))
	entries, err := client.ExtractMemories(context.Background(), "nothing memorable")
	if err != nil {
		t.Fatalf("ExtractMemories: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len = %d, want 0", len(entries))
	}
}

func TestLLMErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewLLMClient(testLLMConfig(srv.URL))
	_, err := client.ExtractMemories(context.Background(), "chat")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want http 429", err)
	}
}

func TestLLMMissingCredentials(t *testing.T) {
	client := NewLLMClient(&config.Config{Memory: config.MemoryConfig{Model: "m"}})
	if _, err := client.ExtractProfile(context.Background(), "", "chat"); err == nil {
		t.Fatal("expected error when credentials are missing")
	}
}
