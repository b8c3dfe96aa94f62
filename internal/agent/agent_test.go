package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/llm"
	"github.com/comigor/jarvis-chat/internal/message"
)

// This mirrors MCPClientInterface in mcp.go
type mockMCPClient struct {
	InitializeFunc  func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListPromptsFunc func(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPromptFunc   func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	closed          bool
}

func (m *mockMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	res := &mcp.InitializeResult{}
	if err := json.Unmarshal([]byte(`{"capabilities":{"prompts":{}}}`), res); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *mockMCPClient) ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	if m.ListPromptsFunc != nil {
		return m.ListPromptsFunc(ctx, req)
	}
	return &mcp.ListPromptsResult{}, nil
}

func (m *mockMCPClient) GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if m.GetPromptFunc != nil {
		return m.GetPromptFunc(ctx, req)
	}
	return &mcp.GetPromptResult{}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

type mockProvider struct {
	reqs   []openai.ChatCompletionRequest
	reply  string
	tokens []string
	err    error
}

func (m *mockProvider) Complete(ctx context.Context, r openai.ChatCompletionRequest) (string, error) {
	m.reqs = append(m.reqs, r)
	return m.reply, m.err
}

func (m *mockProvider) Stream(ctx context.Context, r openai.ChatCompletionRequest) (llm.Stream, error) {
	m.reqs = append(m.reqs, r)
	if m.err != nil {
		return nil, m.err
	}
	return &sliceStream{tokens: m.tokens}, nil
}

type sliceStream struct{ tokens []string }

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error { return nil }

func promptServer(text string) *mockMCPClient {
	return &mockMCPClient{
		ListPromptsFunc: func(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
			return &mcp.ListPromptsResult{Prompts: []mcp.Prompt{
				{Name: "templated", Arguments: []mcp.PromptArgument{{Name: "who"}}},
				{Name: "persona"},
			}}, nil
		},
		GetPromptFunc: func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			if req.Params.Name != "persona" {
				return nil, errors.New("unexpected prompt " + req.Params.Name)
			}
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: "ignored"}},
				{Role: mcp.RoleAssistant, Content: mcp.TextContent{Type: "text", Text: text}},
			}}, nil
		},
	}
}

func TestAgent_DefaultSystemPrompt(t *testing.T) {
	a := New(&mockProvider{}, config.Config{LLM: config.LLMConfig{Model: "gpt"}})
	require.Equal(t, defaultSystemPrompt, a.SystemPrompt())
}

func TestAgent_ComposesDiscoveredPrompts(t *testing.T) {
	cfg := config.LLMConfig{Model: "gpt", SystemPrompt: "Base prompt."}
	failing := &mockMCPClient{
		InitializeFunc: func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
			return nil, errors.New("down")
		},
	}
	noPrompts := &mockMCPClient{
		InitializeFunc: func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
			return &mcp.InitializeResult{}, nil
		},
	}
	a := newWithClients(context.Background(), &mockProvider{}, cfg,
		[]MCPClientInterface{promptServer("Speak like a butler."), failing, noPrompts},
		[]string{"butler", "failing", "bare"})

	require.Equal(t, "Base prompt.\n\nSpeak like a butler.", a.SystemPrompt())

	a.Close()
	require.True(t, failing.closed)
}

func TestAgent_CompleteBuildsConversation(t *testing.T) {
	p := &mockProvider{reply: "Hello, I am a helpful AI."}
	a := New(p, config.Config{LLM: config.LLMConfig{Model: "gpt", Temperature: 0.2}})

	out, err := a.Complete(context.Background(), Request{
		History: []message.Record{
			{Role: message.RoleSystem, Content: "old prompt"},
			{Role: message.RoleUser, Content: "hi"},
			{Role: message.RoleAssistant, Content: "hello"},
		},
		Message: "how are you?",
	})
	require.NoError(t, err)
	require.Equal(t, "Hello, I am a helpful AI.", out)

	require.Len(t, p.reqs, 1)
	req := p.reqs[0]
	require.Equal(t, "gpt", req.Model)
	require.InDelta(t, 0.2, req.Temperature, 1e-6)
	roles := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		roles = append(roles, m.Role)
	}
	require.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	require.Equal(t, "how are you?", req.Messages[3].Content)
}

func TestAgent_StreamUsesRequestedModel(t *testing.T) {
	p := &mockProvider{tokens: []string{"a", "b"}}
	a := New(p, config.Config{LLM: config.LLMConfig{Model: "gpt"}})

	s, err := a.Stream(context.Background(), Request{Message: "hi", Model: "other"})
	require.NoError(t, err)
	tok, err := s.Recv()
	require.NoError(t, err)
	require.Equal(t, "a", tok)
	require.Equal(t, "other", p.reqs[0].Model)
}

func TestAgent_ProviderError(t *testing.T) {
	a := New(&mockProvider{err: context.DeadlineExceeded}, config.Config{LLM: config.LLMConfig{Model: "gpt"}})
	if _, err := a.Complete(context.Background(), Request{Message: "hi"}); err == nil {
		t.Fatalf("expected error")
	}
}
