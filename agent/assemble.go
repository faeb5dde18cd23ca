package agent

import (
	"context"

	"github.com/corey-rosamond/Code-Forge-sub005/llm"
)

// turnOutcome is one fully assembled model turn.
type turnOutcome struct {
	Text      string
	ToolCalls []llm.ToolCall
	Usage     llm.Usage
}

// assembleStream consumes one model stream: text deltas accumulate,
// tool-call fragments are stitched together by index, and a finish
// event closes the turn. Consumption stops immediately when ctx is
// cancelled; there is never a second request for the same turn.
func assembleStream(ctx context.Context, ch <-chan llm.StreamEvent, onDelta func(string)) (*turnOutcome, error) {
	out := &turnOutcome{}
	pending := map[int]*llm.ToolCall{}
	var order []int

	for {
		select {
		case <-ctx.Done():
			return nil, &llm.AbortError{ClientError: llm.ClientError{Message: "stream abandoned", Cause: context.Cause(ctx)}}
		case ev, ok := <-ch:
			if !ok {
				// Channel closed without a finish event; use what arrived.
				finalizeCalls(out, pending, order)
				return out, nil
			}
			switch ev.Type {
			case llm.StreamTextDelta:
				out.Text += ev.Delta
				if onDelta != nil {
					onDelta(ev.Delta)
				}
			case llm.StreamToolFragment:
				f := ev.Fragment
				tc, ok := pending[f.Index]
				if !ok {
					tc = &llm.ToolCall{}
					pending[f.Index] = tc
					order = append(order, f.Index)
				}
				if f.ID != "" {
					tc.ID = f.ID
				}
				if f.Name != "" {
					tc.Name = f.Name
				}
				tc.Arguments = append(tc.Arguments, []byte(f.ArgumentsDelta)...)
			case llm.StreamFinish:
				if r := ev.Response; r != nil {
					out.Usage = r.Usage
					if r.Text != "" && out.Text == "" {
						out.Text = r.Text
					}
					// Provider-assembled calls win over fragment
					// assembly when the finish event carries them.
					if len(r.ToolCalls) > 0 {
						out.ToolCalls = r.ToolCalls
						return out, nil
					}
				}
				finalizeCalls(out, pending, order)
				return out, nil
			case llm.StreamError:
				return nil, ev.Err
			}
		}
	}
}

func finalizeCalls(out *turnOutcome, pending map[int]*llm.ToolCall, order []int) {
	for _, idx := range order {
		out.ToolCalls = append(out.ToolCalls, *pending[idx])
	}
}
