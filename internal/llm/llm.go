// Package llm defines the minimal chat-completion surface the prompt
// runner needs: a single non-streaming, tool-free turn. Simplified from
// the teacher's richer internal/llm.Provider (which also carries tool
// calls, image attachments, and streaming) because the orchestrator's
// prompt tasks are plain single-shot JSON/text completions.
package llm

import "context"

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is implemented by each concrete LLM backend (OpenAI, Anthropic).
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string) (string, error)
}
