package tokencount_test

import (
	"testing"

	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/tokencount"
	"github.com/stretchr/testify/assert"
)

func TestEstimateEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, tokencount.Estimate("", "gpt-4o"))
}

func TestEstimateFallsBackForUnknownModel(t *testing.T) {
	n := tokencount.Estimate("hello world", "claude-3-5-sonnet-20241022")
	assert.Greater(t, n, 0)
}

func TestEstimateRequestIncludesSystemAndMessages(t *testing.T) {
	req := &ir.CoreRequest{
		Model:             "gpt-4o",
		SystemInstruction: "be terse",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentBlock{{Type: ir.ContentText, Text: "hello there"}}},
		},
	}

	n := tokencount.EstimateRequest(req)
	assert.Greater(t, n, 0)
}
