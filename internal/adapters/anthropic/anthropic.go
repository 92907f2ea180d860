// Package anthropic implements the Anthropic Messages API dialect adapter.
package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/llmbridge/transllm/internal/adapters"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/translerr"
)

type wireContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   any            `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content wireContentList `json:"content"`
}

// wireContentList is a message's content, which Anthropic accepts either as
// an array of blocks or as a plain string standing for one text block.
type wireContentList []wireContent

func (l *wireContentList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*l = wireContentList{{Type: "text", Text: text}}
		return nil
	}
	return json.Unmarshal(data, (*[]wireContent)(l))
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	System        string        `json:"system,omitempty"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type wireResponse struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Model      string        `json:"model"`
	Content    []wireContent `json:"content"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      *wireUsage    `json:"usage,omitempty"`
}

// Adapter implements adapters.Adapter for the Anthropic Messages dialect.
type Adapter struct {
	adapters.BaseAdapter

	messageID    string
	model        string
	metadataSent bool
	toolNames    map[int]string
}

// New builds a fresh Anthropic adapter with empty stream state.
func New() *Adapter {
	a := &Adapter{}
	a.ResetStreamState()

	return a
}

func (a *Adapter) Provider() ir.Provider { return ir.ProviderAnthropic }

func (a *Adapter) ResetStreamState() {
	a.ResetSequence()
	a.messageID = ""
	a.model = ""
	a.metadataSent = false
	a.toolNames = make(map[int]string)
}

// ToCoreRequest parses an Anthropic Messages request body into the IR.
func (a *Adapter) ToCoreRequest(raw []byte) (*ir.CoreRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderAnthropic, Details: fmt.Sprintf("unmarshal request: %v", err)}
	}

	maxTokens := wr.MaxTokens

	req := &ir.CoreRequest{
		Model:             wr.Model,
		SystemInstruction: wr.System,
		Stream:            wr.Stream,
		Sampling: ir.SamplingParams{
			MaxTokens:     &maxTokens,
			Temperature:   wr.Temperature,
			TopP:          wr.TopP,
			TopK:          wr.TopK,
			StopSequences: wr.StopSequences,
		},
	}

	for _, m := range wr.Messages {
		req.Messages = append(req.Messages, ir.Message{
			Role:    ir.Role(m.Role),
			Content: contentFromWire(m.Content),
		})
	}

	for _, t := range wr.Tools {
		req.Tools = append(req.Tools, ir.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	return req, nil
}

func contentFromWire(blocks []wireContent) []ir.ContentBlock {
	var out []ir.ContentBlock

	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, ir.ContentBlock{Type: ir.ContentText, Text: b.Text})
		case "tool_use":
			out = append(out, ir.ContentBlock{Type: ir.ContentToolUse, ToolCallID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		case "tool_result":
			out = append(out, ir.ContentBlock{
				Type:            ir.ContentToolResult,
				ToolResultForID: b.ToolUseID,
				ToolResult:      b.Content,
				ToolResultError: b.IsError,
			})
		case "thinking":
			out = append(out, ir.ContentBlock{Type: ir.ContentThinking, Thinking: b.Text})
		}
	}

	return out
}

// contentToWire renders IR content blocks as Anthropic wire content.
// Anthropic's request mapping (unlike OpenAI's and Gemini's) has no
// representation for image content, so a ContentImage block reaching this
// dialect is a genuine unsupported-feature case rather than something to
// drop silently.
func contentToWire(blocks []ir.ContentBlock) ([]wireContent, error) {
	var out []wireContent

	for _, b := range blocks {
		switch b.Type {
		case ir.ContentText:
			out = append(out, wireContent{Type: "text", Text: b.Text})
		case ir.ContentToolUse:
			out = append(out, wireContent{Type: "tool_use", ID: b.ToolCallID, Name: b.ToolName, Input: b.ToolInput})
		case ir.ContentToolResult:
			out = append(out, wireContent{Type: "tool_result", ToolUseID: b.ToolResultForID, Content: b.ToolResult, IsError: b.ToolResultError})
		case ir.ContentThinking:
			out = append(out, wireContent{Type: "thinking", Text: b.Thinking})
		case ir.ContentImage:
			return nil, &translerr.UnsupportedFeatureError{Feature: "image_input", Provider: ir.ProviderAnthropic}
		}
	}

	return out, nil
}

// FromCoreRequest renders the IR request as an Anthropic Messages body.
func (a *Adapter) FromCoreRequest(req *ir.CoreRequest) ([]byte, error) {
	wr := wireRequest{
		Model:         req.Model,
		System:        req.SystemInstruction,
		Stream:        req.Stream,
		Temperature:   req.Sampling.Temperature,
		TopP:          req.Sampling.TopP,
		TopK:          req.Sampling.TopK,
		StopSequences: req.Sampling.StopSequences,
	}

	if req.Sampling.MaxTokens != nil {
		wr.MaxTokens = *req.Sampling.MaxTokens
	}

	for _, m := range req.Messages {
		wireBlocks, err := contentToWire(m.Content)
		if err != nil {
			return nil, err
		}

		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: wireBlocks})
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	return json.Marshal(wr)
}

var finishReasonFromAnthropic = map[string]ir.FinishReason{
	"end_turn":      ir.FinishStop,
	"max_tokens":    ir.FinishLength,
	"tool_use":      ir.FinishToolUse,
	"stop_sequence": ir.FinishStop,
}

var finishReasonToAnthropic = map[ir.FinishReason]string{
	ir.FinishStop:          "end_turn",
	ir.FinishLength:        "max_tokens",
	ir.FinishToolUse:       "tool_use",
	ir.FinishContentFilter: "stop_sequence",
	ir.FinishError:         "end_turn",
}

// ToCoreResponse parses a complete (non-streaming) Anthropic response.
func (a *Adapter) ToCoreResponse(raw []byte) (*ir.CoreResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderAnthropic, Details: fmt.Sprintf("unmarshal response: %v", err)}
	}

	resp := &ir.CoreResponse{
		ID:      wr.ID,
		Model:   wr.Model,
		Role:    ir.RoleAssistant,
		Content: contentFromWire(wr.Content),
	}

	for _, b := range resp.Content {
		if b.Type == ir.ContentToolUse {
			resp.ToolCalls = append(resp.ToolCalls, ir.ToolCall{ID: b.ToolCallID, Name: b.ToolName, Arguments: b.ToolInput})
		}
	}

	if fr, ok := finishReasonFromAnthropic[wr.StopReason]; ok {
		resp.FinishReason = fr
	}

	if wr.Usage != nil {
		resp.Usage = ir.Usage{
			InputTokens:              wr.Usage.InputTokens,
			OutputTokens:             wr.Usage.OutputTokens,
			TotalTokens:              wr.Usage.InputTokens + wr.Usage.OutputTokens,
			CacheReadInputTokens:     wr.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: wr.Usage.CacheCreationInputTokens,
		}
	}

	return resp, nil
}

// FromCoreResponse renders the IR response as an Anthropic Messages body.
func (a *Adapter) FromCoreResponse(resp *ir.CoreResponse) ([]byte, error) {
	wireBlocks, err := contentToWire(resp.Content)
	if err != nil {
		return nil, err
	}

	wr := wireResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    wireBlocks,
		StopReason: finishReasonToAnthropic[resp.FinishReason],
		Usage: &wireUsage{
			InputTokens:              resp.Usage.InputTokens,
			OutputTokens:             resp.Usage.OutputTokens,
			CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		},
	}

	return json.Marshal(wr)
}

type wireEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	Message *struct {
		ID    string     `json:"id"`
		Model string     `json:"model"`
		Usage *wireUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`

	ContentBlock *wireContent `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type,omitempty"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *wireUsage `json:"usage,omitempty"`
}

// ToCoreStreamEvent parses one Anthropic SSE `data:` payload (the `event:`
// line's type is expected to already be duplicated into the JSON body's
// "type" field, as Anthropic's own wire format does) into one normalized
// StreamEvent. Anthropic's stream is already as fine-grained as the IR, so
// every wire event maps to exactly one StreamEvent. Unknown/malformed events
// fall back to metadata_update, per the documented stream fallback policy.
func (a *Adapter) ToCoreStreamEvent(raw []byte) ([]*ir.StreamEvent, error) {
	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return a.one(&ir.StreamEvent{Type: ir.EventMetadataUpdate}), nil
	}

	switch we.Type {
	case "message_start":
		a.metadataSent = true

		if we.Message != nil {
			a.messageID = we.Message.ID
			a.model = we.Message.Model
		}

		return a.one(&ir.StreamEvent{Type: ir.EventMetadataUpdate, MessageID: a.messageID, Model: a.model}), nil

	case "content_block_start":
		if we.ContentBlock != nil && we.ContentBlock.Type == "tool_use" {
			a.toolNames[we.Index] = we.ContentBlock.Name

			return a.one(&ir.StreamEvent{
				Type:       ir.EventToolCallDelta,
				Index:      we.Index,
				ToolCallID: we.ContentBlock.ID,
				ToolName:   we.ContentBlock.Name,
			}), nil
		}

		return a.one(&ir.StreamEvent{
			Type:  ir.EventContentStart,
			Index: we.Index,
			Block: &ir.ContentBlock{Type: ir.ContentText},
		}), nil

	case "content_block_delta":
		if we.Delta == nil {
			return a.one(&ir.StreamEvent{Type: ir.EventMetadataUpdate}), nil
		}

		switch we.Delta.Type {
		case "text_delta":
			return a.one(&ir.StreamEvent{Type: ir.EventContentDelta, Index: we.Index, DeltaText: we.Delta.Text}), nil
		case "input_json_delta":
			return a.one(&ir.StreamEvent{
				Type:           ir.EventToolCallDelta,
				Index:          we.Index,
				ArgumentsDelta: we.Delta.PartialJSON,
			}), nil
		}

		return a.one(&ir.StreamEvent{Type: ir.EventMetadataUpdate}), nil

	case "content_block_stop":
		return a.one(&ir.StreamEvent{Type: ir.EventContentFinish, Index: we.Index}), nil

	case "message_delta":
		ev := &ir.StreamEvent{Type: ir.EventStreamEnd}

		if we.Delta != nil {
			if fr, ok := finishReasonFromAnthropic[we.Delta.StopReason]; ok {
				ev.FinishReason = fr
			}
		}

		if we.Usage != nil {
			ev.Usage = &ir.Usage{InputTokens: we.Usage.InputTokens, OutputTokens: we.Usage.OutputTokens}
		}

		return a.one(ev), nil

	case "message_stop":
		return a.one(&ir.StreamEvent{Type: ir.EventStreamEnd}), nil

	default:
		return a.one(&ir.StreamEvent{Type: ir.EventMetadataUpdate}), nil
	}
}

// one stamps event and wraps it as the single-element slice ToCoreStreamEvent
// returns for every Anthropic wire event.
func (a *Adapter) one(event *ir.StreamEvent) []*ir.StreamEvent {
	return []*ir.StreamEvent{a.NextEvent(event)}
}

// FromCoreStreamEvent renders one normalized StreamEvent as an Anthropic SSE
// `data:` payload.
func (a *Adapter) FromCoreStreamEvent(event *ir.StreamEvent) ([]byte, error) {
	switch event.Type {
	case ir.EventMetadataUpdate:
		return json.Marshal(map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": event.MessageID, "type": "message", "role": "assistant", "model": event.Model,
				"content": []any{}, "stop_reason": nil, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})
	case ir.EventContentStart:
		return json.Marshal(map[string]any{
			"type": "content_block_start", "index": event.Index,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
	case ir.EventContentDelta:
		return json.Marshal(map[string]any{
			"type": "content_block_delta", "index": event.Index,
			"delta": map[string]any{"type": "text_delta", "text": event.DeltaText},
		})
	case ir.EventToolCallDelta:
		if event.ToolName != "" {
			return json.Marshal(map[string]any{
				"type": "content_block_start", "index": event.Index,
				"content_block": map[string]any{"type": "tool_use", "id": event.ToolCallID, "name": event.ToolName, "input": map[string]any{}},
			})
		}

		return json.Marshal(map[string]any{
			"type": "content_block_delta", "index": event.Index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": event.ArgumentsDelta},
		})
	case ir.EventContentFinish:
		return json.Marshal(map[string]any{"type": "content_block_stop", "index": event.Index})
	case ir.EventStreamEnd:
		usage := map[string]any{}
		if event.Usage != nil {
			usage["output_tokens"] = event.Usage.OutputTokens
		}

		return json.Marshal(map[string]any{
			"type": "message_delta",
			"delta": map[string]any{"stop_reason": finishReasonToAnthropic[event.FinishReason]},
			"usage": usage,
		})
	default:
		return json.Marshal(map[string]any{"type": "error", "error": map[string]any{"message": event.ErrorMessage}})
	}
}
