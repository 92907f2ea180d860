// Package tokencount provides an advisory token estimate for a CoreRequest.
// It is explicitly a heuristic, not a precise accounting of what an upstream
// will actually bill: callers needing exact counts must use a dialect's own
// count_tokens endpoint.
package tokencount

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/llmbridge/transllm/internal/ir"
)

const fallbackCharsPerToken = 4

// Estimate returns an advisory token count for text. It tries the model's
// own tiktoken encoding first, then cl100k_base for models tiktoken has no
// table for (e.g. Anthropic and Gemini models), and falls back to a
// characters-divided-by-four heuristic only when no encoding can be loaded.
func Estimate(text string, model string) int {
	if text == "" {
		return 0
	}

	if enc, err := encodingFor(model); err == nil {
		return len(enc.Encode(text, nil, nil))
	}

	return max(1, (len(text)+fallbackCharsPerToken-1)/fallbackCharsPerToken)
}

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return enc, nil
		}
	}

	return tiktoken.GetEncoding("cl100k_base")
}

// EstimateRequest concatenates a request's system instruction, message
// contents, and tool-call names/arguments, then estimates the total.
func EstimateRequest(req *ir.CoreRequest) int {
	var sb strings.Builder

	sb.WriteString(req.SystemInstruction)
	sb.WriteString("\n")

	for _, m := range req.Messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")

		for _, block := range m.Content {
			switch block.Type {
			case ir.ContentText, ir.ContentThinking:
				sb.WriteString(block.Text)
				sb.WriteString(block.Thinking)
			case ir.ContentToolUse:
				sb.WriteString(block.ToolName)
				sb.WriteString(" ")

				for k, v := range block.ToolInput {
					sb.WriteString(k)
					sb.WriteString("=")
					sb.WriteString(toString(v))
					sb.WriteString(" ")
				}
			case ir.ContentToolResult:
				sb.WriteString(toString(block.ToolResult))
			}
		}

		sb.WriteString("\n")
	}

	return Estimate(sb.String(), req.Model)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return ""
}

func max(a, b int) int {
	if a > b {
		return a
	}

	return b
}
