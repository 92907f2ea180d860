// Package openai implements the OpenAI chat-completions dialect adapter.
package openai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/llmbridge/transllm/internal/adapters"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/translerr"
)

// wire request/response shapes, grounded on the OpenAI chat-completions API.

type wireMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []wireToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
	Index    *int             `json:"index,omitempty"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model            string         `json:"model"`
	Messages         []wireMessage  `json:"messages"`
	Tools            []wireTool     `json:"tools,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
}

type wireUsage struct {
	PromptTokens        int                    `json:"prompt_tokens"`
	CompletionTokens    int                    `json:"completion_tokens"`
	TotalTokens         int                    `json:"total_tokens"`
	PromptTokensDetails map[string]any         `json:"prompt_tokens_details,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason,omitempty"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
}

// openaiToolState tracks, per OpenAI tool_calls[].index, the tool_call_id
// the wire gave it and the IR content-block index it was opened under (the two
// are not the same number: block index 0 is reserved for the text block).
type openaiToolState struct {
	id       string
	blockIdx int
}

// Adapter implements adapters.Adapter for the OpenAI dialect.
type Adapter struct {
	adapters.BaseAdapter

	// per-session stream bookkeeping
	messageID    string
	model        string
	metadataSent bool
	textIndex    int
	textStarted  bool
	toolIndexes  map[int]openaiToolState
	nextBlockIdx int
	openIndexes  map[int]bool // content block indices opened but not yet content_finish'd
}

// New builds a fresh OpenAI adapter with empty stream state.
func New() *Adapter {
	a := &Adapter{}
	a.ResetStreamState()

	return a
}

func (a *Adapter) Provider() ir.Provider { return ir.ProviderOpenAI }

func (a *Adapter) ResetStreamState() {
	a.ResetSequence()
	a.messageID = ""
	a.model = ""
	a.metadataSent = false
	a.textIndex = 0
	a.textStarted = false
	a.toolIndexes = make(map[int]openaiToolState)
	a.nextBlockIdx = 1
	a.openIndexes = make(map[int]bool)
}

// ToCoreRequest parses an OpenAI chat-completions request body into the IR.
func (a *Adapter) ToCoreRequest(raw []byte) (*ir.CoreRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderOpenAI, Details: fmt.Sprintf("unmarshal request: %v", err)}
	}

	req := &ir.CoreRequest{
		Model:  wr.Model,
		Stream: wr.Stream,
		Sampling: ir.SamplingParams{
			MaxTokens:        wr.MaxTokens,
			Temperature:      wr.Temperature,
			TopP:             wr.TopP,
			StopSequences:    wr.Stop,
			PresencePenalty:  wr.PresencePenalty,
			FrequencyPenalty: wr.FrequencyPenalty,
		},
	}

	for _, m := range wr.Messages {
		if m.Role == "system" {
			if text, ok := m.Content.(string); ok {
				req.SystemInstruction = text
				continue
			}
		}

		msg := ir.Message{Role: ir.Role(m.Role), Name: m.Name}

		switch content := m.Content.(type) {
		case string:
			if content != "" {
				msg.Content = append(msg.Content, ir.ContentBlock{Type: ir.ContentText, Text: content})
			}
		case []any:
			for _, part := range content {
				partMap, ok := part.(map[string]any)
				if !ok {
					continue
				}

				if text, ok := partMap["text"].(string); ok {
					msg.Content = append(msg.Content, ir.ContentBlock{Type: ir.ContentText, Text: text})
					continue
				}

				if block, ok := imageBlockFromWire(partMap["image_url"]); ok {
					msg.Content = append(msg.Content, block)
				}
			}
		}

		if m.Role == "tool" {
			msg.Content = append(msg.Content, ir.ContentBlock{
				Type:            ir.ContentToolResult,
				ToolResultForID: m.ToolCallID,
				ToolResult:      contentToResult(m.Content),
			})
		}

		for _, tc := range m.ToolCalls {
			args := map[string]any{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)

			msg.Content = append(msg.Content, ir.ContentBlock{
				Type:       ir.ContentToolUse,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				ToolInput:  args,
			})
		}

		req.Messages = append(req.Messages, msg)
	}

	for _, t := range wr.Tools {
		req.Tools = append(req.Tools, ir.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	return req, nil
}

// imageBlockFromWire parses an OpenAI image_url part (raw is the
// "image_url" value: {"url": ..., "detail": ...}) into an IR image content
// block, preserving the detail hint in Meta since the IR has no dedicated
// field for it. raw's url may be an http(s) URL or a data: URI; the latter
// is split into ImageData/MIMEType so FromCoreRequest can round-trip either
// shape into any dialect's wire format.
func imageBlockFromWire(raw any) (ir.ContentBlock, bool) {
	imgMap, ok := raw.(map[string]any)
	if !ok {
		return ir.ContentBlock{}, false
	}

	url, _ := imgMap["url"].(string)
	if url == "" {
		return ir.ContentBlock{}, false
	}

	block := ir.ContentBlock{Type: ir.ContentImage}

	if mime, data, ok := parseDataURI(url); ok {
		block.MIMEType = mime
		block.ImageData = data
	} else {
		block.ImageURL = url
	}

	if detail, ok := imgMap["detail"].(string); ok && detail != "" {
		block.Meta = block.Meta.Set("openai:detail", detail)
	}

	return block, true
}

// parseDataURI splits a "data:<mime>;base64,<data>" URI into its mime type
// and base64 payload. Returns ok=false for anything else (including a plain
// http(s) URL, which callers keep as ImageURL instead).
func parseDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}

	rest := strings.TrimPrefix(uri, "data:")

	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}

	mime = strings.TrimSuffix(header, ";base64")

	return mime, payload, true
}

func contentToResult(content any) any {
	if s, ok := content.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			return parsed
		}

		return s
	}

	return content
}

// FromCoreRequest renders the IR request as an OpenAI chat-completions body.
func (a *Adapter) FromCoreRequest(req *ir.CoreRequest) ([]byte, error) {
	wr := wireRequest{
		Model:  req.Model,
		Stream: req.Stream,
		MaxTokens:        req.Sampling.MaxTokens,
		Temperature:      req.Sampling.Temperature,
		TopP:             req.Sampling.TopP,
		Stop:             req.Sampling.StopSequences,
		PresencePenalty:  req.Sampling.PresencePenalty,
		FrequencyPenalty: req.Sampling.FrequencyPenalty,
	}

	if req.SystemInstruction != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.SystemInstruction})
	}

	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, messageToWire(m)...)
	}

	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return json.Marshal(wr)
}

func messageToWire(m ir.Message) []wireMessage {
	var text string

	var toolCalls []wireToolCall

	var out []wireMessage

	var hasImage bool

	var parts []any

	for _, block := range m.Content {
		switch block.Type {
		case ir.ContentText:
			text += block.Text

			if hasImage {
				parts = append(parts, map[string]any{"type": "text", "text": block.Text})
			}
		case ir.ContentImage:
			if !hasImage {
				hasImage = true
				if text != "" {
					parts = append(parts, map[string]any{"type": "text", "text": text})
				}
			}

			parts = append(parts, map[string]any{"type": "image_url", "image_url": imageURLPart(block)})
		case ir.ContentToolUse:
			args, _ := json.Marshal(block.ToolInput)
			toolCalls = append(toolCalls, wireToolCall{
				ID:   block.ToolCallID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      block.ToolName,
					Arguments: string(args),
				},
			})
		case ir.ContentToolResult:
			resultJSON, _ := json.Marshal(block.ToolResult)
			out = append(out, wireMessage{
				Role:       "tool",
				ToolCallID: block.ToolResultForID,
				Content:    string(resultJSON),
			})
		}
	}

	if hasImage || text != "" || len(toolCalls) > 0 {
		wm := wireMessage{Role: string(m.Role), Name: m.Name}

		switch {
		case hasImage:
			wm.Content = parts
		case text != "":
			wm.Content = text
		}

		wm.ToolCalls = toolCalls
		out = append([]wireMessage{wm}, out...)
	}

	return out
}

// imageURLPart renders an IR image block back into an OpenAI
// image_url.{url,detail} object, restoring the detail hint from Meta and
// reassembling a data: URI when the block carries inline image data rather
// than a remote URL.
func imageURLPart(block ir.ContentBlock) map[string]any {
	part := map[string]any{"url": imageURLOrDataURI(block)}

	if detail, ok := block.Meta.Get("openai:detail"); ok {
		part["detail"] = detail
	}

	return part
}

func imageURLOrDataURI(block ir.ContentBlock) string {
	if block.ImageURL != "" {
		return block.ImageURL
	}

	return fmt.Sprintf("data:%s;base64,%s", block.MIMEType, block.ImageData)
}

var finishReasonFromOpenAI = map[string]ir.FinishReason{
	"stop":           ir.FinishStop,
	"length":         ir.FinishLength,
	"tool_calls":     ir.FinishToolUse,
	"function_call":  ir.FinishToolUse,
	"content_filter": ir.FinishContentFilter,
}

var finishReasonToOpenAI = map[ir.FinishReason]string{
	ir.FinishStop:          "stop",
	ir.FinishLength:        "length",
	ir.FinishToolUse:       "tool_calls",
	ir.FinishContentFilter: "content_filter",
	ir.FinishError:         "stop",
}

// ToCoreResponse parses a complete (non-streaming) OpenAI response.
func (a *Adapter) ToCoreResponse(raw []byte) (*ir.CoreResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderOpenAI, Details: fmt.Sprintf("unmarshal response: %v", err)}
	}

	if len(wr.Choices) == 0 {
		return nil, &translerr.ConversionError{To: ir.ProviderOpenAI, Details: "no choices in response"}
	}

	choice := wr.Choices[0]

	resp := &ir.CoreResponse{
		ID:    wr.ID,
		Model: wr.Model,
		Role:  ir.RoleAssistant,
	}

	if choice.Message != nil {
		resp.Content, resp.ToolCalls = messageFromWire(*choice.Message)
	}

	if choice.FinishReason != nil {
		if fr, ok := finishReasonFromOpenAI[*choice.FinishReason]; ok {
			resp.FinishReason = fr
		}
	}

	if wr.Usage != nil {
		resp.Usage = ir.Usage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
			TotalTokens:  wr.Usage.TotalTokens,
		}

		if cached, ok := wr.Usage.PromptTokensDetails["cached_tokens"].(float64); ok {
			resp.Usage.CacheReadInputTokens = int(cached)
		}
	}

	return resp, nil
}

func messageFromWire(m wireMessage) ([]ir.ContentBlock, []ir.ToolCall) {
	var blocks []ir.ContentBlock

	var calls []ir.ToolCall

	if text, ok := m.Content.(string); ok && text != "" {
		blocks = append(blocks, ir.ContentBlock{Type: ir.ContentText, Text: text})
	}

	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)

		calls = append(calls, ir.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		blocks = append(blocks, ir.ContentBlock{Type: ir.ContentToolUse, ToolCallID: tc.ID, ToolName: tc.Function.Name, ToolInput: args})
	}

	return blocks, calls
}

// FromCoreResponse renders the IR response as an OpenAI chat-completions body.
func (a *Adapter) FromCoreResponse(resp *ir.CoreResponse) ([]byte, error) {
	msg := wireMessage{Role: "assistant"}

	var text string

	for _, block := range resp.Content {
		if block.Type == ir.ContentText {
			text += block.Text
		}
	}

	if text != "" {
		msg.Content = text
	}

	for _, tc := range resp.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireFunctionCall{Name: tc.Name, Arguments: string(args)},
		})
	}

	finish := finishReasonToOpenAI[resp.FinishReason]

	wr := wireResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []wireChoice{{
			Index:        0,
			Message:      &msg,
			FinishReason: &finish,
		}},
		Usage: &wireUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	return json.Marshal(wr)
}

type wireChunk struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
}

// ToCoreStreamEvent parses one already-split OpenAI SSE `data:` payload (not
// including the "[DONE]" sentinel, which callers must handle before reaching
// the adapter) into the normalized StreamEvents it represents, using session
// state to decide whether this chunk carries metadata, a content delta, a
// tool call delta, or the stream end. A single chunk can fan out into
// several events: the first chunk of a session both primes metadata and may
// already carry the first token of real content, and the chunk that closes
// the stream must close every content block still open before stream_end.
func (a *Adapter) ToCoreStreamEvent(raw []byte) ([]*ir.StreamEvent, error) {
	var chunk wireChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderOpenAI, Details: fmt.Sprintf("unmarshal stream chunk: %v", err)}
	}

	if a.messageID == "" {
		a.messageID = chunk.ID
	}

	if a.model == "" {
		a.model = chunk.Model
	}

	var events []*ir.StreamEvent

	if !a.metadataSent {
		a.metadataSent = true
		events = append(events, &ir.StreamEvent{Type: ir.EventMetadataUpdate, MessageID: a.messageID, Model: a.model})
	}

	events = append(events, a.chunkEvents(chunk)...)

	if len(events) == 0 {
		events = append(events, &ir.StreamEvent{Type: ir.EventMetadataUpdate})
	}

	for _, e := range events {
		a.NextEvent(e)
	}

	return events, nil
}

// chunkEvents converts one wire chunk's choice/usage payload into the
// StreamEvents it carries, without the leading metadata_update that
// ToCoreStreamEvent prepends on the first call. Returns nil for chunks that
// carry nothing new (e.g. a bare role-priming delta).
func (a *Adapter) chunkEvents(chunk wireChunk) []*ir.StreamEvent {
	if len(chunk.Choices) == 0 {
		if chunk.Usage == nil {
			return nil
		}

		events := a.closeOpenIndexes()

		return append(events, &ir.StreamEvent{
			Type: ir.EventStreamEnd,
			Usage: &ir.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			},
		})
	}

	choice := chunk.Choices[0]

	if choice.FinishReason != nil {
		fr, ok := finishReasonFromOpenAI[*choice.FinishReason]
		if !ok {
			fr = ir.FinishStop
		}

		events := a.closeOpenIndexes()

		return append(events, &ir.StreamEvent{Type: ir.EventStreamEnd, FinishReason: fr})
	}

	if choice.Delta == nil {
		return nil
	}

	delta := choice.Delta

	if len(delta.ToolCalls) > 0 {
		tc := delta.ToolCalls[0]

		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}

		state, known := a.toolIndexes[idx]

		if !known {
			blockIdx := a.nextBlockIdx
			a.nextBlockIdx++

			state = openaiToolState{id: tc.ID, blockIdx: blockIdx}
			a.toolIndexes[idx] = state
			a.openIndexes[blockIdx] = true

			return []*ir.StreamEvent{{
				Type:       ir.EventToolCallDelta,
				Index:      blockIdx,
				ToolCallID: state.id,
				ToolName:   tc.Function.Name,
			}}
		}

		return []*ir.StreamEvent{{
			Type:           ir.EventToolCallDelta,
			Index:          state.blockIdx,
			ToolCallID:     state.id,
			ArgumentsDelta: tc.Function.Arguments,
		}}
	}

	if text, ok := delta.Content.(string); ok && text != "" {
		if !a.textStarted {
			a.textStarted = true
			a.openIndexes[a.textIndex] = true

			return []*ir.StreamEvent{
				{Type: ir.EventContentStart, Index: a.textIndex, Block: &ir.ContentBlock{Type: ir.ContentText}},
				{Type: ir.EventContentDelta, Index: a.textIndex, DeltaText: text},
			}
		}

		return []*ir.StreamEvent{{Type: ir.EventContentDelta, Index: a.textIndex, DeltaText: text}}
	}

	return nil
}

// closeOpenIndexes emits a content_finish for every content block index that
// was opened but never explicitly closed, in ascending order, and clears the
// open set. Called just before a stream_end is emitted.
func (a *Adapter) closeOpenIndexes() []*ir.StreamEvent {
	if len(a.openIndexes) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.openIndexes))
	for idx := range a.openIndexes {
		indexes = append(indexes, idx)
	}

	sort.Ints(indexes)

	events := make([]*ir.StreamEvent, 0, len(indexes))
	for _, idx := range indexes {
		events = append(events, &ir.StreamEvent{Type: ir.EventContentFinish, Index: idx})
	}

	a.openIndexes = make(map[int]bool)

	return events
}

// FromCoreStreamEvent renders one normalized StreamEvent as an OpenAI SSE
// `data:` payload.
func (a *Adapter) FromCoreStreamEvent(event *ir.StreamEvent) ([]byte, error) {
	chunk := wireChunk{ID: event.MessageID, Model: event.Model}

	delta := &wireMessage{}

	switch event.Type {
	case ir.EventMetadataUpdate:
		delta.Role = "assistant"
	case ir.EventContentDelta:
		delta.Content = event.DeltaText
	case ir.EventToolCallDelta:
		idx := event.Index
		delta.ToolCalls = []wireToolCall{{
			ID:       event.ToolCallID,
			Type:     "function",
			Index:    &idx,
			Function: wireFunctionCall{Name: event.ToolName, Arguments: event.ArgumentsDelta},
		}}
	case ir.EventStreamEnd:
		finish := finishReasonToOpenAI[event.FinishReason]
		chunk.Choices = []wireChoice{{Index: 0, Delta: &wireMessage{}, FinishReason: &finish}}

		if event.Usage != nil {
			chunk.Usage = &wireUsage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}

		return json.Marshal(chunk)
	default:
		delta = nil
	}

	if delta != nil {
		chunk.Choices = []wireChoice{{Index: 0, Delta: delta}}
	}

	return json.Marshal(chunk)
}
