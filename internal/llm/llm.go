package llm

import (
	"context"
	"errors"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the provider answers without choices.
var ErrEmptyResponse = errors.New("llm: response has no choices")

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return openai.NewClientWithConfig(config)
}

// OpenAI adapts an OpenAI-compatible client to Provider.
type OpenAI struct {
	client Client
}

func NewOpenAI(client Client) *OpenAI {
	return &OpenAI{client: client}
}

// Complete performs a non-streaming completion and returns the first choice.
func (p *OpenAI) Complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = false
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streaming completion.
func (p *OpenAI) Stream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	req.Stream = true
	s, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &openAIStream{s: s}, nil
}

type openAIStream struct {
	s *openai.ChatCompletionStream
}

// Recv skips deltas without content (role announcements, finish markers).
func (o *openAIStream) Recv() (string, error) {
	for {
		resp, err := o.s.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (o *openAIStream) Close() error {
	return o.s.Close()
}
