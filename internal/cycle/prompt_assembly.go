package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemindctl/hivemind/internal/agent"
	agentcontext "github.com/hivemindctl/hivemind/internal/agent/context"
	"github.com/hivemindctl/hivemind/pkg/models"
)

// assemblePrompt builds the CompletionRequest for one cycle: a static
// role+state system prompt plus dynamically injected context, the packed
// message history, and the incoming message (spec section 4.7 step 1).
// When the packed history would still exceed the summarizer's threshold, the
// oldest portion is compressed into a rolling summary first.
func (h *Handler) assemblePrompt(ctx context.Context, ag *models.Agent, incoming *models.Message, provider agent.LLMProvider, model string) (*agent.CompletionRequest, error) {
	history := toPointerSlice(ag.History)
	summary := agentcontext.FindLatestSummary(history)

	summary, history, err := h.maybeSummarize(ctx, ag, history, summary, provider)
	if err != nil {
		return nil, err
	}

	packed, err := h.deps.Packer.Pack(history, incoming, summary)
	if err != nil {
		return nil, fmt.Errorf("packing context: %w", err)
	}

	system := h.deps.Prompts.SystemPrompt(ag.Role, ag.State) + "\nCurrent time: " + time.Now().UTC().Format(time.RFC3339)

	return &agent.CompletionRequest{
		Model:    model,
		System:   system,
		Messages: toCompletionMessages(packed),
	}, nil
}

// maybeSummarize compresses the oldest portion of history into a new
// summary message when the summarizer says it's due, returning the summary
// to use for this cycle (possibly unchanged) and the history to pack. When a
// new summary is made it is appended to ag.History, and the returned history
// is ag.History re-read, so it ends with that summary message (Packer
// filters summary messages out of history itself).
func (h *Handler) maybeSummarize(ctx context.Context, ag *models.Agent, history []*models.Message, summary *models.Message, provider agent.LLMProvider) (*models.Message, []*models.Message, error) {
	if !agentcontext.NeedsSummarization(history, summary, h.deps.SummarizationConfig.MaxMsgsBeforeSummary) {
		return summary, history, nil
	}

	summarizer := agentcontext.NewSummarizer(newSummaryAdapter(provider, ag.Model), h.deps.SummarizationConfig)
	newSummary, err := summarizer.Summarize(ctx, history, summary)
	if err != nil {
		// Summarization failing is not fatal to the cycle: fall back to the
		// unsummarized history and let Packer's own budget truncate it.
		h.deps.Bus.Emit(errorEvent(ag.ID, "context summarization failed, continuing unsummarized: "+err.Error()))
		return summary, history, nil
	}
	if newSummary == nil {
		return summary, history, nil
	}

	before := len(history)
	ag.AppendHistory(*newSummary)
	h.deps.Audit.LogSessionCompact(ctx, ag.ID, ag.ID, before, len(ag.History), 0, "rolling_summary")
	return newSummary, toPointerSlice(ag.History), nil
}

func toPointerSlice(msgs []models.Message) []*models.Message {
	out := make([]*models.Message, len(msgs))
	for i := range msgs {
		out[i] = &msgs[i]
	}
	return out
}

func toCompletionMessages(packed []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(packed))
	for _, m := range packed {
		if m == nil {
			continue
		}
		out = append(out, agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}
