package agentrouter

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
)

func init() {
	RegisterBackend("genkit", func() Backend { return &genkitBackend{} })
}

// genkitBackend drives genkit.GenerateStream the way the teacher's
// GenkitBrain.Stream does, translating each streamed text part into a
// message Chunk and the stream's Done value into a terminal done/error
// Chunk.
type genkitBackend struct{}

func (b *genkitBackend) Stream(ctx context.Context, settings AgentSettings, prompt string) (<-chan Chunk, error) {
	g, modelName, err := b.initGenkit(ctx, settings)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)

		opts := []ai.GenerateOption{
			ai.WithPrompt(prompt),
			ai.WithModelName(modelName),
		}
		stream := genkit.GenerateStream(ctx, g, opts...)

		for streamVal, streamErr := range stream {
			if ctx.Err() != nil {
				return
			}
			if streamErr != nil {
				out <- Chunk{Type: ChunkError, Content: streamErr.Error()}
				return
			}
			if streamVal.Chunk != nil {
				for _, part := range streamVal.Chunk.Content {
					if part.Kind == ai.PartText && part.Text != "" {
						out <- Chunk{Type: ChunkMessage, Content: part.Text}
					}
					if part.Kind == ai.PartToolRequest && part.ToolRequest != nil {
						out <- Chunk{Type: ChunkToolUse, Content: part.ToolRequest.Name}
					}
				}
			}
			if streamVal.Done {
				out <- Chunk{Type: ChunkDone}
				return
			}
		}
		out <- Chunk{Type: ChunkDone}
	}()
	return out, nil
}

func (b *genkitBackend) initGenkit(ctx context.Context, settings AgentSettings) (*genkit.Genkit, string, error) {
	modelID := settings.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-5"
	}
	switch strings.ToLower(providerFromModel(modelID)) {
	case "anthropic":
		plugin := &anthropic.Anthropic{APIKey: settings.APIKey, BaseURL: settings.BaseURL}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		return g, "anthropic/" + modelID, nil
	case "openai":
		plugin := &compat_oai.OpenAICompatible{Provider: "openai", APIKey: settings.APIKey, BaseURL: settings.BaseURL}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		return g, "openai/" + modelID, nil
	default:
		return nil, "", fmt.Errorf("genkit backend: unsupported model %q", modelID)
	}
}

func providerFromModel(modelID string) string {
	switch {
	case strings.Contains(modelID, "claude"):
		return "anthropic"
	case strings.Contains(modelID, "gpt"):
		return "openai"
	default:
		return "anthropic"
	}
}
