package oracle

import (
	"context"
	"strings"
)

// Role is the speaker of one chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat constrains what the model may answer with.
type ResponseFormat int

const (
	FormatText ResponseFormat = iota
	// FormatJSON asks for one JSON object. Providers without a native JSON
	// mode receive jsonInstruction as an extra system block.
	FormatJSON
)

const jsonInstruction = "Respond with a single JSON object and nothing else."

// LLMRequest is one completion call. Operation names the oracle call
// (section, fix or validate) for provider logs.
type LLMRequest struct {
	Operation string
	Model     string
	System    []string
	Messages  []ChatMessage
	Format    ResponseFormat
	MaxTokens int32
	// Negative temperature leaves the provider default.
	Temperature float32
	TopP        float32
}

// systemBlocks drops blank system prompts. native reports whether the
// provider enforces Format itself.
func (r LLMRequest) systemBlocks(native bool) []string {
	out := make([]string, 0, len(r.System)+1)
	for _, block := range r.System {
		if strings.TrimSpace(block) != "" {
			out = append(out, block)
		}
	}
	if r.Format == FormatJSON && !native {
		out = append(out, jsonInstruction)
	}
	return out
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is implemented by every model provider binding.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
