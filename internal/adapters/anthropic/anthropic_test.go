package anthropic_test

import (
	"testing"

	"github.com/llmbridge/transllm/internal/adapters/anthropic"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/translerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCoreRequestRejectsImageContent(t *testing.T) {
	a := anthropic.New()

	req := &ir.CoreRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []ir.Message{{
			Role:    ir.RoleUser,
			Content: []ir.ContentBlock{{Type: ir.ContentImage, ImageURL: "https://example.com/cat.png"}},
		}},
	}

	_, err := a.FromCoreRequest(req)
	require.Error(t, err)

	var unsupported *translerr.UnsupportedFeatureError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "image_input", unsupported.Feature)
	assert.Equal(t, ir.ProviderAnthropic, unsupported.Provider)
}

func TestToCoreRequestBasic(t *testing.T) {
	a := anthropic.New()

	raw := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"system": "be terse",
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": [{"type": "text", "text": "hi"}]}]
	}`)

	req, err := a.ToCoreRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.SystemInstruction)
	require.NotNil(t, req.Sampling.MaxTokens)
	assert.Equal(t, 1024, *req.Sampling.MaxTokens)
	assert.Equal(t, "hi", req.Messages[0].Content[0].Text)
}

func TestToCoreResponseToolUse(t *testing.T) {
	a := anthropic.New()

	raw := []byte(`{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-20241022",
		"content": [{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": {"q": "Beijing"}}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`)

	resp, err := a.ToCoreResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, ir.FinishToolUse, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "Beijing", resp.ToolCalls[0].Arguments["q"])
	assert.Equal(t, 28, resp.Usage.TotalTokens)
}

func TestStreamMessageStartThenContentDelta(t *testing.T) {
	a := anthropic.New()

	start, err := a.ToCoreStreamEvent([]byte(`{"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-sonnet-20241022"}}`))
	require.NoError(t, err)
	require.Len(t, start, 1)
	assert.Equal(t, ir.EventMetadataUpdate, start[0].Type)
	assert.Equal(t, "msg_1", start[0].MessageID)
	assert.Equal(t, 0, start[0].SequenceID)

	blockStart, err := a.ToCoreStreamEvent([]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	require.NoError(t, err)
	require.Len(t, blockStart, 1)
	assert.Equal(t, ir.EventContentStart, blockStart[0].Type)

	delta, err := a.ToCoreStreamEvent([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`))
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, ir.EventContentDelta, delta[0].Type)
	assert.Equal(t, "hi", delta[0].DeltaText)
	assert.Equal(t, 2, delta[0].SequenceID)
}

func TestStreamToolCallArgumentsDeltaFragments(t *testing.T) {
	a := anthropic.New()

	start, err := a.ToCoreStreamEvent([]byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup","input":{}}}`))
	require.NoError(t, err)
	require.Len(t, start, 1)
	assert.Equal(t, ir.EventToolCallDelta, start[0].Type)
	assert.Equal(t, "lookup", start[0].ToolName)

	frag1, err := a.ToCoreStreamEvent([]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"location\""}}`))
	require.NoError(t, err)
	require.Len(t, frag1, 1)
	assert.Equal(t, `{"location"`, frag1[0].ArgumentsDelta)

	frag2, err := a.ToCoreStreamEvent([]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":": \"Beijing\"}"}}`))
	require.NoError(t, err)
	require.Len(t, frag2, 1)
	assert.Equal(t, `: "Beijing"}`, frag2[0].ArgumentsDelta)
}

func TestMalformedEventFallsBackToMetadataUpdate(t *testing.T) {
	a := anthropic.New()

	ev, err := a.ToCoreStreamEvent([]byte(`not json`))
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, ir.EventMetadataUpdate, ev[0].Type)
}

func TestResetStreamStateRestartsSequence(t *testing.T) {
	a := anthropic.New()

	_, _ = a.ToCoreStreamEvent([]byte(`{"type":"message_start","message":{"id":"msg_1"}}`))
	a.ResetStreamState()

	ev, err := a.ToCoreStreamEvent([]byte(`{"type":"message_start","message":{"id":"msg_2"}}`))
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, 0, ev[0].SequenceID)
	assert.Equal(t, "msg_2", ev[0].MessageID)
}
