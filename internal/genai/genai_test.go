package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerate_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("  Hello World \n")}
	client := &Client{chat: mock, model: "test-model", temperature: 0.5, maxCompletionTokens: 100}
	out, err := client.Generate(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("model = %q", mock.params.Model)
	}
}

func TestGenerate_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Generate(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.Generate(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerate_EmptyContent(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("   ")}}
	_, err := client.Generate(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithBaseURL("http://localhost:9999/v1"), WithModel("m"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil || cli.model != "m" {
		t.Errorf("unexpected client %+v", cli)
	}
}

type funcGenerator func(ctx context.Context, system, user string) (string, error)

func (f funcGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

func TestGenerateOrFallback(t *testing.T) {
	ctx := context.Background()
	ok := funcGenerator(func(ctx context.Context, s, u string) (string, error) { return "generated", nil })
	bad := funcGenerator(func(ctx context.Context, s, u string) (string, error) { return "", errors.New("quota") })

	if got := GenerateOrFallback(ctx, ok, "s", "u", "fb"); got != "generated" {
		t.Errorf("got %q", got)
	}
	if got := GenerateOrFallback(ctx, bad, "s", "u", "fb"); got != "fb" {
		t.Errorf("got %q", got)
	}
	if got := GenerateOrFallback(ctx, nil, "s", "u", "fb"); got != "fb" {
		t.Errorf("got %q", got)
	}
}

func TestCleanFormat(t *testing.T) {
	in := "## Итог\n**Главное**: действуй *сейчас*"
	want := "Итог\n\"Главное\": действуй сейчас"
	if got := CleanFormat(in); got != want {
		t.Errorf("CleanFormat() = %q, want %q", got, want)
	}
}
