package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is minimal subset of openai.Client used by the provider; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Provider generates assistant replies, optionally streaming.
type Provider interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error)
	Stream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}

// Stream yields content deltas. Recv returns io.EOF once the provider is done.
type Stream interface {
	Recv() (string, error)
	Close() error
}
