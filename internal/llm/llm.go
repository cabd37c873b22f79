// Package llm abstracts the chat-completion provider behind a small
// interface so the orchestrator and tools can be tested with a scripted
// implementation.
package llm

import (
	"context"
	"encoding/json"

	"github.com/moative/billie/internal/model"
)

// ToolDef describes a callable tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Completion is a single assistant turn. Either Content is set, or ToolCalls
// carries one or more tool invocations to satisfy before the turn completes.
type Completion struct {
	Content   string
	ToolCalls []model.ToolCall
}

// Provider produces assistant turns and one-shot extractions.
type Provider interface {
	// Complete runs one chat completion over the dialogue history with the
	// given tools available.
	Complete(ctx context.Context, msgs []model.Message, tools []ToolDef) (*Completion, error)

	// Extract runs a single-prompt completion with no tools and returns the
	// raw text. Used for address and time extraction.
	Extract(ctx context.Context, prompt string) (string, error)
}
