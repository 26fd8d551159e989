package llm

import (
	"context"

	"github.com/alexyujiuqiao/IM/datatypes"
)

// GenerationParams carries optional sampling parameters for a single call.
// Nil fields leave the backend default untouched.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any completion backend.
type LLMClient interface {
	// Generate produces a completion for a single prompt string.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a full message history.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}

// Float32Ptr returns a pointer to v. Convenience for GenerationParams fields.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr returns a pointer to v. Convenience for GenerationParams fields.
func IntPtr(v int) *int { return &v }
