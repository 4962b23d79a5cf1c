package agentrouter

import (
	"context"
	"errors"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func init() {
	RegisterBackend("anthropic", func() Backend { return &anthropicBackend{} })
}

// anthropicBackend talks directly to the Anthropic Messages API (bypassing
// genkit) for callers whose AgentSettings.Backend is "anthropic" —
// grounded on goadesign-goa-ai's features/model/anthropic client+stream
// adapter, simplified to the Chunk shape this router needs.
type anthropicBackend struct{}

func (b *anthropicBackend) Stream(ctx context.Context, settings AgentSettings, prompt string) (<-chan Chunk, error) {
	model := settings.Model
	if model == "" {
		model = string(sdk.ModelClaudeSonnet4_5_20250929)
	}
	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	client := sdk.NewClient(opts...)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: 4096,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}

	stream := client.Messages.NewStreaming(ctx, params)

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			if ctx.Err() != nil {
				return
			}
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				if delta.Delta.Text != "" {
					out <- Chunk{Type: ChunkMessage, Content: delta.Delta.Text}
				}
			case sdk.MessageStopEvent:
				out <- Chunk{Type: ChunkDone}
				return
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
