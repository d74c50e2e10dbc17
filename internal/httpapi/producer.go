package httpapi

import (
	"context"
	"strings"
)

// ChatMessage is one turn of an OpenAI-style conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProduceRequest carries the routed request to the content producer.
type ProduceRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// ProduceResult reports how a completion ended and what it consumed.
type ProduceResult struct {
	FinishReason     string
	PromptTokens     int64
	CompletionTokens int64
}

// Producer generates completion content for a routed request. The gateway
// orchestrates admission, selection, streaming, and accounting; the upstream
// inference transport plugs in here.
//
// Produce calls emit once per content delta, in order. An error from emit
// aborts generation and is returned unchanged so the caller can tell
// cancellation apart from producer failure.
type Producer interface {
	Produce(ctx context.Context, req ProduceRequest, emit func(delta string) error) (ProduceResult, error)
}

// EchoProducer repeats the last user message back one word at a time. It
// stands in for a real upstream transport in tests and local development.
type EchoProducer struct{}

func (EchoProducer) Produce(ctx context.Context, req ProduceRequest, emit func(string) error) (ProduceResult, error) {
	prompt := int64(0)
	last := ""
	for _, m := range req.Messages {
		prompt += int64(len(m.Content) / 4)
		if m.Role == "user" {
			last = m.Content
		}
	}

	completion := int64(0)
	words := strings.Fields(last)
	if len(words) == 0 {
		words = []string{"(empty)"}
	}
	for i, word := range words {
		if err := ctx.Err(); err != nil {
			return ProduceResult{}, err
		}
		if req.MaxTokens > 0 && int(completion) >= req.MaxTokens {
			return ProduceResult{
				FinishReason:     "length",
				PromptTokens:     prompt,
				CompletionTokens: completion,
			}, nil
		}
		delta := word
		if i < len(words)-1 {
			delta += " "
		}
		if err := emit(delta); err != nil {
			return ProduceResult{}, err
		}
		completion++
	}

	return ProduceResult{
		FinishReason:     "stop",
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}, nil
}
