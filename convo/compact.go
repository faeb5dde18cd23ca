package convo

import (
	"context"
	"fmt"
	"strings"

	"github.com/corey-rosamond/Code-Forge-sub005/llm"
)

// Compactor reduces a conversation to fit within budget tokens.
// Implementations must preserve every system entry and must be
// idempotent: compacting an already-fitting conversation is a no-op.
type Compactor interface {
	Name() string
	Compact(ctx context.Context, entries []Entry, budget int, est Estimator) ([]Entry, error)
}

// SlidingWindowCompactor keeps the most recent entries, dropping the
// oldest non-system ones until the conversation fits.
type SlidingWindowCompactor struct {
	// MinRecent is the number of trailing entries always kept,
	// regardless of budget. Zero means no floor.
	MinRecent int
}

func (SlidingWindowCompactor) Name() string { return "sliding_window" }

func (c SlidingWindowCompactor) Compact(ctx context.Context, entries []Entry, budget int, est Estimator) ([]Entry, error) {
	if est.Estimate(entries) <= budget {
		return entries, nil
	}

	var system, rest []Entry
	for _, e := range entries {
		if e.Kind == EntrySystem {
			system = append(system, e)
		} else {
			rest = append(rest, e)
		}
	}

	// Drop from the front of the non-system tail until the whole
	// conversation fits or only the floor remains.
	for len(rest) > c.MinRecent {
		candidate := append(append([]Entry{}, system...), rest...)
		if est.Estimate(candidate) <= budget {
			return candidate, nil
		}
		rest = rest[1:]
	}
	return append(append([]Entry{}, system...), rest...), nil
}

// summarySections shape the structured summary the model is asked to
// produce when a conversation block is compacted away.
var summarySections = []string{
	"Intent",
	"Progress",
	"Files touched",
	"Decisions",
	"Pending work",
}

// SummaryCompactor replaces the oldest contiguous block of non-system
// entries with one synthetic summary entry produced by an auxiliary
// model call. On model failure it falls back to Fallback (sliding
// window when nil).
type SummaryCompactor struct {
	Client llm.Client
	Model  string
	// KeepRecent is how many trailing entries survive summarization.
	KeepRecent int
	Fallback   Compactor
}

func (SummaryCompactor) Name() string { return "summary" }

func (c SummaryCompactor) Compact(ctx context.Context, entries []Entry, budget int, est Estimator) ([]Entry, error) {
	if est.Estimate(entries) <= budget {
		return entries, nil
	}

	keep := c.KeepRecent
	if keep <= 0 {
		keep = 4
	}

	var system, rest []Entry
	for _, e := range entries {
		if e.Kind == EntrySystem {
			system = append(system, e)
		} else {
			rest = append(rest, e)
		}
	}
	if len(rest) <= keep {
		// Nothing old enough to fold away.
		return c.fallback(ctx, entries, budget, est)
	}

	old, recent := rest[:len(rest)-keep], rest[len(rest)-keep:]
	summary, err := c.summarize(ctx, old)
	if err != nil {
		return c.fallback(ctx, entries, budget, est)
	}

	summaryEntry := Entry{
		Kind:    EntryUser,
		Content: summary,
		Summary: true,
	}
	result := append(append([]Entry{}, system...), summaryEntry)
	result = append(result, recent...)

	// The summary itself may not be enough; let the fallback strategy
	// finish the job rather than summarizing recursively.
	if est.Estimate(result) > budget {
		return c.fallback(ctx, result, budget, est)
	}
	return result, nil
}

func (c SummaryCompactor) fallback(ctx context.Context, entries []Entry, budget int, est Estimator) ([]Entry, error) {
	fb := c.Fallback
	if fb == nil {
		fb = SlidingWindowCompactor{MinRecent: 2}
	}
	return fb.Compact(ctx, entries, budget, est)
}

func (c SummaryCompactor) summarize(ctx context.Context, old []Entry) (string, error) {
	if c.Client == nil {
		return "", fmt.Errorf("summary compactor has no model client")
	}

	var transcript strings.Builder
	for _, e := range old {
		fmt.Fprintf(&transcript, "[%s] %s\n", e.Kind, e.Content)
		for _, tc := range e.ToolCalls {
			fmt.Fprintf(&transcript, "[tool call] %s %s\n", tc.Name, tc.Arguments)
		}
	}

	prompt := "Summarize the conversation below so work can continue without it. " +
		"Use these sections: " + strings.Join(summarySections, ", ") + ".\n\n" +
		transcript.String()

	resp, err := llm.Collect(ctx, c.Client, llm.Request{
		Model: c.Model,
		Messages: []llm.Message{
			llm.SystemMessage("You compress coding-session transcripts. Be concrete: file paths, commands, outcomes."),
			llm.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return "[Conversation summary]\n" + resp.Text, nil
}

// TruncationMarker flags content shortened to fit the budget.
const TruncationMarker = "[... truncated to fit context budget ...]"

// truncateEntry shortens a single over-budget entry head+tail around an
// explicit marker so roughly targetTokens remain.
func truncateEntry(e Entry, targetTokens int, est Estimator) Entry {
	if est.Estimate([]Entry{e}) <= targetTokens {
		return e
	}
	// Translate the token target back to bytes conservatively.
	targetBytes := targetTokens * 3
	if targetBytes >= len(e.Content) || targetBytes < len(TruncationMarker)+2 {
		targetBytes = len(TruncationMarker) + 64
	}
	half := (targetBytes - len(TruncationMarker)) / 2
	if half < 1 {
		half = 1
	}
	if half*2 >= len(e.Content) {
		return e
	}
	e.Content = e.Content[:half] + "\n" + TruncationMarker + "\n" + e.Content[len(e.Content)-half:]
	return e
}
