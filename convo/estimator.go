package convo

import (
	"github.com/pkoukk/tiktoken-go"
)

// Estimator approximates the token cost of conversation entries.
// Estimates must be monotonic: more content never costs fewer tokens.
type Estimator interface {
	Estimate(entries []Entry) int
	EstimateText(text string) int
}

// entryOverhead covers role framing and tool call metadata per entry.
const entryOverhead = 4

// HeuristicEstimator approximates tokens as len/4. Cheap, always
// available, and good enough for budget decisions.
type HeuristicEstimator struct{}

func (HeuristicEstimator) EstimateText(text string) int {
	return len(text) / 4
}

func (h HeuristicEstimator) Estimate(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += h.EstimateText(e.Content) + entryOverhead
		for _, tc := range e.ToolCalls {
			total += h.EstimateText(tc.Name) + h.EstimateText(string(tc.Arguments))
		}
	}
	return total
}

// TiktokenEstimator counts tokens with the cl100k_base encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the cl100k_base encoding. The returned
// error is non-nil when the encoding data is unavailable; callers fall
// back to HeuristicEstimator.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (t *TiktokenEstimator) EstimateText(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenEstimator) Estimate(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += t.EstimateText(e.Content) + entryOverhead
		for _, tc := range e.ToolCalls {
			total += t.EstimateText(tc.Name) + t.EstimateText(string(tc.Arguments))
		}
	}
	return total
}

// NewEstimator returns a tiktoken estimator when the encoding loads,
// otherwise the heuristic.
func NewEstimator() Estimator {
	if est, err := NewTiktokenEstimator(); err == nil {
		return est
	}
	return HeuristicEstimator{}
}
