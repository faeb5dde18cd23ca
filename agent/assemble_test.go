package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corey-rosamond/Code-Forge-sub005/llm"
)

func streamFrom(evs ...llm.StreamEvent) <-chan llm.StreamEvent {
	ch := make(chan llm.StreamEvent, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestAssembleStreamAccumulatesDeltas(t *testing.T) {
	var seen []string
	out, err := assembleStream(context.Background(), streamFrom(
		llm.StreamEvent{Type: llm.StreamTextDelta, Delta: "hello "},
		llm.StreamEvent{Type: llm.StreamTextDelta, Delta: "world"},
		llm.StreamEvent{Type: llm.StreamFinish, Response: &llm.Response{Usage: llm.Usage{TotalTokens: 7}}},
	), func(d string) { seen = append(seen, d) })
	require.NoError(t, err)

	assert.Equal(t, "hello world", out.Text)
	assert.Equal(t, []string{"hello ", "world"}, seen)
	assert.Equal(t, 7, out.Usage.TotalTokens)
	assert.Empty(t, out.ToolCalls)
}

func TestAssembleStreamStitchesFragmentsByIndex(t *testing.T) {
	// Two interleaved calls, arguments arriving in pieces.
	out, err := assembleStream(context.Background(), streamFrom(
		llm.StreamEvent{Type: llm.StreamToolFragment, Fragment: &llm.ToolCallFragment{Index: 0, ID: "a", Name: "read_file", ArgumentsDelta: `{"path":`}},
		llm.StreamEvent{Type: llm.StreamToolFragment, Fragment: &llm.ToolCallFragment{Index: 1, ID: "b", Name: "grep", ArgumentsDelta: `{"pattern"`}},
		llm.StreamEvent{Type: llm.StreamToolFragment, Fragment: &llm.ToolCallFragment{Index: 0, ArgumentsDelta: `"main.go"}`}},
		llm.StreamEvent{Type: llm.StreamToolFragment, Fragment: &llm.ToolCallFragment{Index: 1, ArgumentsDelta: `:"func"}`}},
		llm.StreamEvent{Type: llm.StreamFinish, Response: &llm.Response{FinishReason: llm.FinishToolCalls}},
	), nil)
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 2)
	assert.Equal(t, "a", out.ToolCalls[0].ID)
	assert.Equal(t, "read_file", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, string(out.ToolCalls[0].Arguments))
	assert.Equal(t, "b", out.ToolCalls[1].ID)
	assert.JSONEq(t, `{"pattern":"func"}`, string(out.ToolCalls[1].Arguments))
}

func TestAssembleStreamFinishCallsWin(t *testing.T) {
	// When the finish event carries assembled calls, they take
	// precedence over fragment assembly.
	out, err := assembleStream(context.Background(), streamFrom(
		llm.StreamEvent{Type: llm.StreamToolFragment, Fragment: &llm.ToolCallFragment{Index: 0, ID: "frag", Name: "partial"}},
		llm.StreamEvent{Type: llm.StreamFinish, Response: &llm.Response{
			ToolCalls: []llm.ToolCall{{ID: "final", Name: "shell"}},
		}},
	), nil)
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "final", out.ToolCalls[0].ID)
}

func TestAssembleStreamClosedWithoutFinish(t *testing.T) {
	out, err := assembleStream(context.Background(), streamFrom(
		llm.StreamEvent{Type: llm.StreamTextDelta, Delta: "partial answer"},
	), nil)
	require.NoError(t, err)
	assert.Equal(t, "partial answer", out.Text)
}

func TestAssembleStreamPropagatesStreamError(t *testing.T) {
	wantErr := errors.New("wire dropped")
	_, err := assembleStream(context.Background(), streamFrom(
		llm.StreamEvent{Type: llm.StreamTextDelta, Delta: "x"},
		llm.StreamEvent{Type: llm.StreamError, Err: wantErr},
	), nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestAssembleStreamAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan llm.StreamEvent) // never delivers
	_, err := assembleStream(ctx, ch, nil)
	require.Error(t, err)
	var abort *llm.AbortError
	assert.ErrorAs(t, err, &abort)
}
