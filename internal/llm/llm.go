// Package llm wraps the opaque text-completion and embedding service the
// engine depends on (§6 "LLM provider"). Provider errors never cross this
// boundary as raw errors — callers translate them into
// errs.LLMUnavailable.
package llm

import "context"

// GenerateOptions bounds a single completion call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// Provider is the contract the engine depends on. A concrete
// implementation wraps a real vendor SDK; tests use a deterministic
// fake.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StreamingProvider is an optional capability: providers that can stream
// incremental tokens implement it so the SessionDurableActor can forward
// chunks to the live client as they arrive (§4.8, §6).
type StreamingProvider interface {
	Provider
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) (string, error)
}
