package gemini_test

import (
	"testing"

	"github.com/llmbridge/transllm/internal/adapters/gemini"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCoreRequestMergesDuplicateRoles(t *testing.T) {
	a := gemini.New()

	raw := []byte(`{
		"contents": [
			{"role": "user", "parts": [{"text": "hi"}]},
			{"role": "user", "parts": [{"text": " there"}]},
			{"role": "model", "parts": [{"text": "hello"}]}
		]
	}`)

	req, err := a.ToCoreRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2, "consecutive same-role contents must merge")
	assert.Equal(t, ir.RoleUser, req.Messages[0].Role)
	assert.Len(t, req.Messages[0].Content, 2)
}

func TestFromCoreRequestRejectsEmptyObjectProperties(t *testing.T) {
	a := gemini.New()

	req := &ir.CoreRequest{
		Model:    "gemini-2.0-flash",
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentBlock{{Type: ir.ContentText, Text: "hi"}}}},
		Tools:    []ir.ToolDefinition{{Name: "lookup", Parameters: map[string]any{"type": "object", "properties": map[string]any{}}}},
	}

	_, err := a.FromCoreRequest(req)
	require.Error(t, err)
}

func TestImageContentRoundTrip(t *testing.T) {
	a := gemini.New()

	raw := []byte(`{"contents":[{"role":"user","parts":[
		{"text":"what is this?"},
		{"inlineData":{"mimeType":"image/png","data":"Zm9v"}}
	]}]}`)

	req, err := a.ToCoreRequest(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Content, 2)

	img := req.Messages[0].Content[1]
	assert.Equal(t, ir.ContentImage, img.Type)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "Zm9v", img.ImageData)

	out, err := a.FromCoreRequest(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"inlineData"`)
	assert.Contains(t, string(out), `"Zm9v"`)
}

func TestFunctionCallMintsIDAndThoughtSignatureRoundTrips(t *testing.T) {
	a := gemini.New()

	resp, err := a.ToCoreResponse([]byte(`{
		"candidates": [{"content": {"role":"model","parts":[{"functionCall":{"name":"lookup","args":{"q":"weather"}}}]}, "finishReason": "STOP"}],
		"responseId": "r1", "modelVersion": "gemini-2.0-flash"
	}`))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)

	out, err := a.FromCoreResponse(resp)
	require.NoError(t, err)
	assert.Contains(t, string(out), "thoughtSignature")

	// Round-trip the rendered response's functionCall back through
	// ToCoreRequest-style content parsing via a fresh adapter to confirm the
	// minted id is recoverable from the thoughtSignature.
	b := gemini.New()

	req, err := b.ToCoreRequest([]byte(`{"contents":[{"role":"model","parts":[` +
		extractFirstPart(out) + `]}]}`))
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Content, 1)
	assert.Equal(t, resp.ToolCalls[0].ID, req.Messages[0].Content[0].ToolCallID)
}

func extractFirstPart(respJSON []byte) string {
	// crude extraction for the test: the candidate's content.parts[0] object
	// is the suffix after "parts":[ up to the matching close bracket.
	s := string(respJSON)
	idx := indexOf(s, `"parts":[`)
	start := idx + len(`"parts":[`)
	depth := 0

	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return "{}"
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}

	return -1
}

func TestCandidateTokenCountInclusiveDerivesOutputTokens(t *testing.T) {
	a := gemini.New()

	resp, err := a.ToCoreResponse([]byte(`{
		"candidates": [{"content": {"role":"model","parts":[{"text":"hi"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 120, "totalTokenCount": 150}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Usage.OutputTokens, "when total < prompt+candidates, output tokens must be derived from total-prompt")
}

func TestCandidateTokenCountDisjointUsesCandidatesDirectly(t *testing.T) {
	a := gemini.New()

	resp, err := a.ToCoreResponse([]byte(`{
		"candidates": [{"content": {"role":"model","parts":[{"text":"hi"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 50, "totalTokenCount": 150}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Usage.OutputTokens)
}

func TestStreamResetClearsState(t *testing.T) {
	a := gemini.New()

	ev, err := a.ToCoreStreamEvent([]byte(`{"responseId":"r1","modelVersion":"gemini-2.0-flash"}`))
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, ir.EventMetadataUpdate, ev[0].Type)
	assert.Equal(t, 0, ev[0].SequenceID)

	a.ResetStreamState()

	ev2, err := a.ToCoreStreamEvent([]byte(`{"responseId":"r2","modelVersion":"gemini-2.0-flash"}`))
	require.NoError(t, err)
	require.Len(t, ev2, 1)
	assert.Equal(t, 0, ev2[0].SequenceID)
	assert.Equal(t, "r2", ev2[0].MessageID)
}

func TestStreamEndClosesOpenContentBlockFirst(t *testing.T) {
	a := gemini.New()

	_, err := a.ToCoreStreamEvent([]byte(`{"responseId":"r1","modelVersion":"gemini-2.0-flash","candidates":[{"content":{"role":"model","parts":[{"text":"Hello"}]}}]}`))
	require.NoError(t, err)

	end, err := a.ToCoreStreamEvent([]byte(`{"candidates":[{"finishReason":"STOP"}]}`))
	require.NoError(t, err)
	require.Len(t, end, 2)
	assert.Equal(t, ir.EventContentFinish, end[0].Type)
	assert.Equal(t, 0, end[0].Index)
	assert.Equal(t, ir.EventStreamEnd, end[1].Type)
}
