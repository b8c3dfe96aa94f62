package agent

import (
	"context"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/logger"
)

// MCPClientInterface defines the methods our agent expects from an MCP client.
type MCPClientInterface interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	Close() error
}

// connectMCP creates and starts a client for one configured server.
func connectMCP(ctx context.Context, serverCfg config.MCPServerConfig) (*client.Client, error) {
	var mcpC *client.Client
	var err error

	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(serverCfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(serverCfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		mcpC, err = client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	case "":
		return nil, fmt.Errorf("MCP server %q has no type; set 'sse', 'streamable_http' or 'stdio'", serverCfg.Name)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q for %q", serverCfg.Type, serverCfg.Name)
	}
	if err != nil {
		return nil, err
	}

	// stdio clients are started on creation
	if serverCfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			if cerr := mcpC.Close(); cerr != nil {
				logger.L.Warn("MCP client close error after start failure", "error", cerr)
			}
			return nil, fmt.Errorf("start MCP transport: %w", err)
		}
	}
	return mcpC, nil
}

// discoverPrompt initializes c and returns the assistant text of the first
// argument-less prompt it offers, or "" when there is none.
func discoverPrompt(ctx context.Context, name string, c MCPClientInterface) (string, error) {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "jarvis-chat", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	initResult, err := c.Initialize(ctx, initReq)
	if err != nil {
		return "", fmt.Errorf("initialize MCP client: %w", err)
	}
	if initResult == nil || initResult.Capabilities.Prompts == nil {
		logger.L.Debug("Server does not list prompt support", "name", name)
		return "", nil
	}

	prompts, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return "", fmt.Errorf("list prompts: %w", err)
	}
	if prompts == nil {
		return "", nil
	}

	indexFirst := slices.IndexFunc(prompts.Prompts, func(p mcp.Prompt) bool {
		return len(p.Arguments) == 0
	})
	if indexFirst == -1 {
		return "", nil
	}

	getPromptReq := mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: prompts.Prompts[indexFirst].Name},
	}
	firstPrompt, err := c.GetPrompt(ctx, getPromptReq)
	if err != nil {
		return "", fmt.Errorf("get prompt %q: %w", getPromptReq.Params.Name, err)
	}
	if firstPrompt == nil {
		return "", nil
	}

	indexAssistantMsg := slices.IndexFunc(firstPrompt.Messages, func(m mcp.PromptMessage) bool {
		return m.Role == mcp.RoleAssistant
	})
	if indexAssistantMsg == -1 {
		return "", nil
	}
	if content, ok := firstPrompt.Messages[indexAssistantMsg].Content.(mcp.TextContent); ok {
		return content.Text, nil
	}
	return "", nil
}
