package ir_test

import (
	"testing"

	"github.com/llmbridge/transllm/internal/ir"
	"github.com/stretchr/testify/assert"
)

func TestStructurallyEqualIgnoresBlockOrder(t *testing.T) {
	a := []ir.ContentBlock{
		{Type: ir.ContentText, Text: "hello"},
		{Type: ir.ContentToolUse, ToolName: "lookup", ToolInput: map[string]any{"q": "weather"}},
	}
	b := []ir.ContentBlock{
		{Type: ir.ContentToolUse, ToolName: "lookup", ToolInput: map[string]any{"q": "weather"}},
		{Type: ir.ContentText, Text: "hello"},
	}

	assert.True(t, ir.StructurallyEqual(a, b))
}

func TestStructurallyEqualDetectsDifference(t *testing.T) {
	a := ir.CoreResponse{ID: "1", FinishReason: ir.FinishStop}
	b := ir.CoreResponse{ID: "1", FinishReason: ir.FinishLength}

	assert.False(t, ir.StructurallyEqual(a, b))
}

func TestStructurallyEqualMismatchedTypes(t *testing.T) {
	assert.False(t, ir.StructurallyEqual(map[string]any{"a": 1}, []any{1}))
}
