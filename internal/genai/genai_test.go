package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp openai.ChatCompletion
	err  error
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testClient(svc chatService) *Client {
	return &Client{chat: svc, model: openai.ChatModelGPT4oMini, timeout: time.Second}
}

func TestComplete_WellFormedEnvelope(t *testing.T) {
	content := `{"user_response":{"message":"That sounds heavy."},"system_response":{"intent":"venting","relationship":"brother"}}`
	client := testClient(&mockChatService{resp: completionWith(content)})

	result := client.Complete(context.Background(), "instruction", "I'm so angry at my brother", "s1")
	if result.Degraded {
		t.Fatal("well-formed response reported as degraded")
	}
	if result.UserResponse.Message != "That sounds heavy." {
		t.Errorf("message = %q", result.UserResponse.Message)
	}
	if got := result.SystemString("intent"); got != "venting" {
		t.Errorf("intent = %q, want venting", got)
	}
	if got := result.SystemString("relationship"); got != "brother" {
		t.Errorf("relationship = %q, want brother", got)
	}
}

func TestComplete_ServiceErrorIsDegraded(t *testing.T) {
	client := testClient(&mockChatService{err: errors.New("service failure")})

	result := client.Complete(context.Background(), "instruction", "hello", "s1")
	if !result.Degraded {
		t.Fatal("service error not reported as degraded")
	}
	if result.UserResponse.Message != DegradedMessage {
		t.Errorf("degraded message = %q", result.UserResponse.Message)
	}
	if _, ok := result.SystemResponse["error"]; !ok {
		t.Error("degraded result missing error marker")
	}
}

func TestComplete_NoChoicesIsDegraded(t *testing.T) {
	client := testClient(&mockChatService{resp: openai.ChatCompletion{}})

	result := client.Complete(context.Background(), "instruction", "hello", "s1")
	if !result.Degraded {
		t.Fatal("empty choices not reported as degraded")
	}
	if result.UserResponse.Message != DegradedMessage {
		t.Errorf("degraded message = %q", result.UserResponse.Message)
	}
}

func TestComplete_PlainTextFallsThrough(t *testing.T) {
	client := testClient(&mockChatService{resp: completionWith("just plain prose")})

	result := client.Complete(context.Background(), "instruction", "hello", "s1")
	if result.Degraded {
		t.Fatal("plain text reported as degraded")
	}
	if result.UserResponse.Message != "just plain prose" {
		t.Errorf("message = %q", result.UserResponse.Message)
	}
}

func TestNormalize_KeyHunting(t *testing.T) {
	cases := []struct {
		name        string
		raw         map[string]interface{}
		wantMessage string
		wantSystem  map[string]string
	}{
		{
			name:        "reflection key",
			raw:         map[string]interface{}{"reflection": "I hear you."},
			wantMessage: "I hear you.",
		},
		{
			name:        "reply key",
			raw:         map[string]interface{}{"reply": "Go on."},
			wantMessage: "Go on.",
		},
		{
			name:        "user_response as bare string",
			raw:         map[string]interface{}{"user_response": "Noted."},
			wantMessage: "Noted.",
		},
		{
			name: "flattened system fields",
			raw: map[string]interface{}{
				"message":        "Got it.",
				"recipient_name": "Maya",
				"decision":       "NO_OVERRIDE",
			},
			wantMessage: "Got it.",
			wantSystem:  map[string]string{"recipient_name": "Maya", "decision": "NO_OVERRIDE"},
		},
		{
			name: "validity alias isValidName",
			raw: map[string]interface{}{
				"message":     "Thanks.",
				"isValidName": true,
			},
			wantMessage: "Thanks.",
			wantSystem:  map[string]string{"is_valid_name": "yes"},
		},
		{
			name: "validity alias isValid",
			raw: map[string]interface{}{
				"message": "Thanks.",
				"isValid": false,
			},
			wantMessage: "Thanks.",
			wantSystem:  map[string]string{"is_valid_name": "no"},
		},
		{
			name: "nested system_response wins over top level",
			raw: map[string]interface{}{
				"user_response":   map[string]interface{}{"message": "ok"},
				"system_response": map[string]interface{}{"intent": "apology_4a"},
				"intent":          "venting",
			},
			wantMessage: "ok",
			wantSystem:  map[string]string{"intent": "apology_4a"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result := Normalize(c.raw)
			if result.UserResponse.Message != c.wantMessage {
				t.Errorf("message = %q, want %q", result.UserResponse.Message, c.wantMessage)
			}
			for key, want := range c.wantSystem {
				if got := result.SystemString(key); got != want {
					t.Errorf("system %q = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}

// mockEmbeddingService implements embeddingService for testing.
type mockEmbeddingService struct {
	resp openai.CreateEmbeddingResponse
	err  error
}

func (m *mockEmbeddingService) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	return m.resp, m.err
}

func TestEmbed(t *testing.T) {
	resp := openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{
			{Embedding: []float64{1, 0}},
			{Embedding: []float64{0, 1}},
		},
	}
	e := &Embedder{svc: &mockEmbeddingService{resp: resp}, model: openai.EmbeddingModelTextEmbedding3Small}

	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 || vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("unexpected vectors: %v", vectors)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	resp := openai.CreateEmbeddingResponse{Data: []openai.Embedding{{Embedding: []float64{1}}}}
	e := &Embedder{svc: &mockEmbeddingService{resp: resp}, model: openai.EmbeddingModelTextEmbedding3Small}

	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected count mismatch error, got nil")
	}
}

func TestEmbed_Error(t *testing.T) {
	e := &Embedder{svc: &mockEmbeddingService{err: errors.New("boom")}, model: openai.EmbeddingModelTextEmbedding3Small}
	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Error("expected error, got nil")
	}
}
