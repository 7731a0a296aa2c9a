package cycle

import (
	"context"
	"fmt"

	"github.com/hivemindctl/hivemind/internal/agent"
	agentcontext "github.com/hivemindctl/hivemind/internal/agent/context"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// providerSummaryAdapter lets any agent.LLMProvider serve as a
// context.SummaryProvider: it builds the summarization prompt, issues a
// single non-tool completion, and drains the stream into one string. This
// is the only place CycleHandler asks a provider for a non-streamed answer.
type providerSummaryAdapter struct {
	provider agent.LLMProvider
	model    string
}

func newSummaryAdapter(provider agent.LLMProvider, model string) *providerSummaryAdapter {
	return &providerSummaryAdapter{provider: provider, model: model}
}

func (a *providerSummaryAdapter) Summarize(ctx context.Context, messages []*models.Message, maxLength int) (string, error) {
	prompt := agentcontext.BuildSummarizationPrompt(messages, maxLength)
	req := &agent.CompletionRequest{
		Model:     a.model,
		Messages:  []agent.CompletionMessage{{Role: string(models.RoleUser), Content: prompt}},
		MaxTokens: maxLength,
	}
	chunks, err := a.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("cycle: summarization request: %w", err)
	}
	var text string
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("cycle: summarization stream: %w", chunk.Error)
		}
		text += chunk.Text
		if chunk.Done {
			break
		}
	}
	if len(text) > maxLength {
		text = text[:maxLength]
	}
	return text, nil
}
