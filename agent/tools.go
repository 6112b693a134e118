package agent

import (
	"fmt"
)

// defaultToolLimits maps tool names to their default character limits. Tools
// not listed here use defaultCharLimit.
var defaultToolLimits = map[string]int{}

// defaultCharLimit bounds a single tool's rendered output before it becomes
// part of a tool-role message, independent of the Context Manager's own
// token-budget summarization pass.
const defaultCharLimit = 30000

// TruncateOutput truncates output that exceeds maxChars, keeping the first
// and last half with an omission marker in between.
func TruncateOutput(output string, maxChars int) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: tool output truncated, %d characters removed from the middle]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateToolOutput truncates tool output using per-tool defaults,
// optionally overridden by limits.
func TruncateToolOutput(output, toolName string, limits map[string]int) string {
	maxChars := defaultCharLimit
	if v, ok := defaultToolLimits[toolName]; ok {
		maxChars = v
	}
	if limits != nil {
		if v, ok := limits[toolName]; ok {
			maxChars = v
		}
	}
	return TruncateOutput(output, maxChars)
}

// renderToolData stringifies a tool's success Data for the tool-role message
// content. It does not truncate: string Data has already been bounded by the
// executor, and other values are rendered with %v in full.
func renderToolData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
