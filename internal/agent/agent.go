// Package agent turns a conversation and a new user message into a provider
// request, streaming or not. The system prompt is the configured (or default)
// prompt followed by the prompts discovered from MCP servers.
package agent

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/llm"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/message"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."

// Agent is the main agent struct
type Agent struct {
	provider             llm.Provider
	cfg                  config.LLMConfig
	mcpClients           []MCPClientInterface
	discoveredMCPPrompts []string // first argument-less prompt of each MCP server
	systemPrompt         string
}

// Request is one generation request.
type Request struct {
	History        []message.Record
	Message        string
	Model          string
	VoiceProfileID string
}

// New creates a new agent and queries the configured MCP servers for prompts.
// Servers that fail to connect are logged and skipped.
func New(provider llm.Provider, appCfg config.Config) *Agent {
	ctx := context.Background()
	clients := make([]MCPClientInterface, 0, len(appCfg.MCPServers))
	names := make([]string, 0, len(appCfg.MCPServers))
	for _, serverCfg := range appCfg.MCPServers {
		c, err := connectMCP(ctx, serverCfg)
		if err != nil {
			logger.L.Error("Failed to create MCP client", "name", serverCfg.Name, "error", err)
			continue
		}
		clients = append(clients, c)
		names = append(names, serverCfg.Name)
	}
	if len(clients) == 0 && len(appCfg.MCPServers) > 0 {
		logger.L.Warn("No MCP clients were successfully initialized despite servers configured.", "length", len(appCfg.MCPServers))
	}
	return newWithClients(ctx, provider, appCfg.LLM, clients, names)
}

func newWithClients(ctx context.Context, provider llm.Provider, cfg config.LLMConfig, clients []MCPClientInterface, names []string) *Agent {
	a := &Agent{
		provider:   provider,
		cfg:        cfg,
		mcpClients: clients,
	}
	for i, c := range clients {
		prompt, err := discoverPrompt(ctx, names[i], c)
		if err != nil {
			logger.L.Warn("Failed to discover prompt from MCP server", "name", names[i], "error", err)
			continue
		}
		if prompt != "" {
			a.discoveredMCPPrompts = append(a.discoveredMCPPrompts, prompt)
			logger.L.Info("Discovered and added system prompt from MCP server", "name", names[i])
		}
	}
	a.systemPrompt = a.composeSystemPrompt()
	logger.L.Debug("Final aggregated system prompt", "prompt", a.systemPrompt)
	return a
}

func (a *Agent) composeSystemPrompt() string {
	base := defaultSystemPrompt
	if a.cfg.SystemPrompt != "" {
		base = a.cfg.SystemPrompt
	}
	var b strings.Builder
	b.WriteString(base)
	for _, p := range a.discoveredMCPPrompts {
		b.WriteString("\n\n")
		b.WriteString(p)
	}
	return b.String()
}

// SystemPrompt returns the prompt prepended to every request.
func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// Close shuts down the MCP clients.
func (a *Agent) Close() {
	for _, c := range a.mcpClients {
		if err := c.Close(); err != nil {
			logger.L.Warn("MCP client close error", "error", err)
		}
	}
}

func (a *Agent) request(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt})
	for _, m := range req.History {
		// Stored system messages are superseded by the current prompt.
		if m.Role == message.RoleSystem {
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: a.cfg.Temperature,
	}
}

// Complete generates the whole reply at once.
func (a *Agent) Complete(ctx context.Context, req Request) (string, error) {
	return a.provider.Complete(ctx, a.request(req))
}

// Stream opens a streaming reply.
func (a *Agent) Stream(ctx context.Context, req Request) (llm.Stream, error) {
	return a.provider.Stream(ctx, a.request(req))
}
