package tool

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Per-tool character limits.
var DefaultCharLimits = map[string]int{
	"read_file":  50000,
	"shell":      30000,
	"grep":       20000,
	"glob":       20000,
	"write_file": 1000,
	"list_dir":   20000,
}

// Per-tool truncation modes.
var DefaultModes = map[string]TruncationMode{
	"read_file":  TruncateHeadTail,
	"shell":      TruncateHeadTail,
	"grep":       TruncateTail,
	"glob":       TruncateTail,
	"write_file": TruncateTail,
	"list_dir":   TruncateTail,
}

// Per-tool line limits, applied after character truncation.
var DefaultLineLimits = map[string]int{
	"shell": 256,
	"grep":  200,
	"glob":  500,
}

// fallbackCharLimit applies to tools without a configured limit.
const fallbackCharLimit = 30000

// TruncateChars applies character-based truncation.
func TruncateChars(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[Output truncated: first %d characters removed. Re-run with narrower parameters for the full output.]\n\n", removed) +
			output[len(output)-maxChars:]
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[Output truncated: %d characters removed from the middle. Re-run with narrower parameters for the full output.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation with a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateOutput applies the full pipeline for a tool: characters
// first (bounds pathological cases), then lines (readability).
func TruncateOutput(output, toolName string) string {
	maxChars, ok := DefaultCharLimits[toolName]
	if !ok {
		maxChars = fallbackCharLimit
	}
	mode, ok := DefaultModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateChars(output, maxChars, mode)

	if maxLines, ok := DefaultLineLimits[toolName]; ok {
		result = TruncateLines(result, maxLines)
	}
	return result
}
