package agentrouter

import (
	"context"
	"errors"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	RegisterBackend("openai", func() Backend { return &openaiBackend{} })
}

// openaiBackend talks directly to the OpenAI Chat Completions streaming
// endpoint for callers whose AgentSettings.Backend is "openai".
type openaiBackend struct{}

func (b *openaiBackend) Stream(ctx context.Context, settings AgentSettings, prompt string) (<-chan Chunk, error) {
	model := settings.Model
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			if ctx.Err() != nil {
				return
			}
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					out <- Chunk{Type: ChunkMessage, Content: choice.Delta.Content}
				}
				if choice.FinishReason != "" {
					out <- Chunk{Type: ChunkDone}
					return
				}
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			out <- Chunk{Type: ChunkError, Content: err.Error()}
			return
		}
		out <- Chunk{Type: ChunkDone}
	}()
	return out, nil
}
