// Package gemini implements the Google Gemini generateContent dialect
// adapter, including the id-minting and schema-validation steps Gemini's
// wire format needs that OpenAI and Anthropic do not: Gemini never assigns
// its own tool-call ids, and its JSON-schema tool parameters need pre-flight
// structural validation the other two dialects don't require.
package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/llmbridge/transllm/internal/adapters"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/translerr"
)

const maxSchemaDepth = 50

type wirePart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *wireInlineData       `json:"inlineData,omitempty"`
	FileData         *wireFileData         `json:"fileData,omitempty"`
	ThoughtSignature string                `json:"thoughtSignature,omitempty"`
}

// wireInlineData carries base64-encoded media embedded directly in the
// request/response body.
type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// wireFileData references media already uploaded to Gemini's Files API by
// URI, rather than embedding it inline.
type wireFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type wireFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type wireContent struct {
	Parts []wirePart `json:"parts,omitempty"`
	Role  string     `json:"role,omitempty"`
}

type wireFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDeclaration `json:"functionDeclarations"`
}

type wireGenerationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type wireRequest struct {
	Contents          []wireContent         `json:"contents"`
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
	Tools             []wireTool            `json:"tools,omitempty"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
}

type wireUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

type wireCandidate struct {
	Content      *wireContent `json:"content,omitempty"`
	FinishReason string       `json:"finishReason,omitempty"`
	Index        int          `json:"index,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type wireResponse struct {
	Candidates    []wireCandidate    `json:"candidates,omitempty"`
	UsageMetadata *wireUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string             `json:"modelVersion,omitempty"`
	ResponseID    string             `json:"responseId,omitempty"`
	Error         *wireError         `json:"error,omitempty"`
}

// Adapter implements adapters.Adapter for the Gemini dialect.
type Adapter struct {
	adapters.BaseAdapter

	messageID    string
	model        string
	metadataSent bool
	textIndex    int
	textStarted  bool
	blockIndex   int
	openIndexes  map[int]bool // content block indices opened but not yet content_finish'd
	// toolCallIDs maps a function name to the tool-call id ToCoreRequest
	// assigned to its most recent functionCall, so a later functionResponse
	// for that name is linked to the same id.
	toolCallIDs map[string]string
}

// New builds a fresh Gemini adapter with empty stream state.
func New() *Adapter {
	a := &Adapter{}
	a.ResetStreamState()

	return a
}

func (a *Adapter) Provider() ir.Provider { return ir.ProviderGemini }

func (a *Adapter) ResetStreamState() {
	a.ResetSequence()
	a.messageID = ""
	a.model = ""
	a.metadataSent = false
	a.textIndex = 0
	a.textStarted = false
	a.blockIndex = 1
	a.openIndexes = make(map[int]bool)
	a.toolCallIDs = make(map[string]string)
}

// mintToolCallID generates an id Gemini never sends on the wire, since
// function calls there carry only a name, not an id.
func mintToolCallID() string {
	return "toolu_gemini_" + uuid.New().String()
}

// encodeThoughtSignature packs a minted tool-call id into the opaque
// thoughtSignature field so a later round trip of this tool call through a
// client's message history can recover the exact same id instead of minting
// a fresh one every time.
func encodeThoughtSignature(toolCallID string) string {
	return base64.StdEncoding.EncodeToString([]byte("toolcall:" + toolCallID))
}

// decodeThoughtSignature recovers a previously minted tool-call id, if sig
// was produced by encodeThoughtSignature.
func decodeThoughtSignature(sig string) (string, bool) {
	data, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}

	const prefix = "toolcall:"
	if !strings.HasPrefix(string(data), prefix) {
		return "", false
	}

	return strings.TrimPrefix(string(data), prefix), true
}

// ToCoreRequest parses a Gemini generateContent request body into the IR.
func (a *Adapter) ToCoreRequest(raw []byte) (*ir.CoreRequest, error) {
	var wr wireRequest
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderGemini, Details: fmt.Sprintf("unmarshal request: %v", err)}
	}

	req := &ir.CoreRequest{Sampling: ir.SamplingParams{}}

	if wr.SystemInstruction != nil {
		req.SystemInstruction = joinText(wr.SystemInstruction.Parts)
	}

	if wr.GenerationConfig != nil {
		req.Sampling.MaxTokens = wr.GenerationConfig.MaxOutputTokens
		req.Sampling.Temperature = wr.GenerationConfig.Temperature
		req.Sampling.TopP = wr.GenerationConfig.TopP
		req.Sampling.TopK = wr.GenerationConfig.TopK
		req.Sampling.StopSequences = wr.GenerationConfig.StopSequences
	}

	for _, tool := range wr.Tools {
		for _, fd := range tool.FunctionDeclarations {
			req.Tools = append(req.Tools, ir.ToolDefinition{Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters})
		}
	}

	contents := mergeDuplicateContents(wr.Contents)

	for _, c := range contents {
		role := ir.RoleUser
		if c.Role == "model" {
			role = ir.RoleAssistant
		}

		msg := ir.Message{Role: role}

		for _, part := range c.Parts {
			if part.Text != "" {
				msg.Content = append(msg.Content, ir.ContentBlock{Type: ir.ContentText, Text: part.Text})
			}

			if part.InlineData != nil {
				msg.Content = append(msg.Content, ir.ContentBlock{
					Type: ir.ContentImage, ImageData: part.InlineData.Data, MIMEType: part.InlineData.MimeType,
				})
			}

			if part.FileData != nil {
				msg.Content = append(msg.Content, ir.ContentBlock{
					Type: ir.ContentImage, ImageURL: part.FileData.FileURI, MIMEType: part.FileData.MimeType,
				})
			}

			if part.FunctionCall != nil {
				id := mintToolCallID()
				if sigID, ok := decodeThoughtSignature(part.ThoughtSignature); ok {
					id = sigID
				}

				a.toolCallIDs[part.FunctionCall.Name] = id

				msg.Content = append(msg.Content, ir.ContentBlock{
					Type: ir.ContentToolUse, ToolCallID: id, ToolName: part.FunctionCall.Name, ToolInput: part.FunctionCall.Args,
				})
			}

			if part.FunctionResponse != nil {
				refID, ok := a.toolCallIDs[part.FunctionResponse.Name]
				if !ok {
					refID = part.FunctionResponse.Name
				}

				msg.Content = append(msg.Content, ir.ContentBlock{
					Type: ir.ContentToolResult, ToolResultForID: refID, ToolResult: part.FunctionResponse.Response,
				})
			}
		}

		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

func joinText(parts []wirePart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}

	return sb.String()
}

// mergeDuplicateContents merges consecutive same-role contents, since Gemini
// requires strictly alternating user/model turns.
func mergeDuplicateContents(contents []wireContent) []wireContent {
	var out []wireContent

	for _, c := range contents {
		if len(out) > 0 && out[len(out)-1].Role == c.Role {
			out[len(out)-1].Parts = append(out[len(out)-1].Parts, c.Parts...)
			continue
		}

		out = append(out, c)
	}

	return out
}

// validateSchema recursively checks a JSON-schema-ish tool parameter
// definition for the structural issues Gemini rejects: an object schema with
// an empty properties map, an array schema with no items, and anyOf/allOf
// entries that are themselves invalid. depth is bounded at maxSchemaDepth to
// guard against circular $ref-style schemas.
func validateSchema(schema map[string]any, depth int) error {
	if schema == nil {
		return nil
	}

	if depth > maxSchemaDepth {
		return fmt.Errorf("schema nesting exceeds depth %d (possible circular reference)", maxSchemaDepth)
	}

	switch schema["type"] {
	case "object":
		props, _ := schema["properties"].(map[string]any)
		if props != nil && len(props) == 0 {
			return fmt.Errorf("object schema has empty properties")
		}

		for name, prop := range props {
			propMap, ok := prop.(map[string]any)
			if !ok {
				continue
			}

			if err := validateSchema(propMap, depth+1); err != nil {
				return fmt.Errorf("property %q: %w", name, err)
			}
		}
	case "array":
		items, ok := schema["items"]
		if !ok || items == nil {
			return fmt.Errorf("array schema missing items")
		}

		if itemsMap, ok := items.(map[string]any); ok {
			if err := validateSchema(itemsMap, depth+1); err != nil {
				return fmt.Errorf("items: %w", err)
			}
		}
	}

	for _, key := range []string{"anyOf", "allOf"} {
		variants, ok := schema[key].([]any)
		if !ok {
			continue
		}

		for i, v := range variants {
			vMap, ok := v.(map[string]any)
			if !ok {
				continue
			}

			if err := validateSchema(vMap, depth+1); err != nil {
				return fmt.Errorf("%s[%d]: %w", key, i, err)
			}
		}
	}

	return nil
}

// FromCoreRequest renders the IR request as a Gemini generateContent body.
// Tool parameter schemas are validated here, immediately before they would
// be emitted on the wire, so a request converted to Gemini from any source
// dialect is checked regardless of where it originated.
func (a *Adapter) FromCoreRequest(req *ir.CoreRequest) ([]byte, error) {
	for _, t := range req.Tools {
		if err := validateSchema(t.Parameters, 0); err != nil {
			return nil, &translerr.ValidationError{Messages: []string{fmt.Sprintf("tool %q: %v", t.Name, err)}}
		}
	}

	wr := wireRequest{}

	if req.SystemInstruction != "" {
		wr.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemInstruction}}}
	}

	if req.Sampling.MaxTokens != nil || req.Sampling.Temperature != nil || req.Sampling.TopP != nil || req.Sampling.TopK != nil || len(req.Sampling.StopSequences) > 0 {
		wr.GenerationConfig = &wireGenerationConfig{
			MaxOutputTokens: req.Sampling.MaxTokens,
			Temperature:     req.Sampling.Temperature,
			TopP:            req.Sampling.TopP,
			TopK:            req.Sampling.TopK,
			StopSequences:   req.Sampling.StopSequences,
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]wireFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, wireFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}

		wr.Tools = []wireTool{{FunctionDeclarations: decls}}
	}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == ir.RoleAssistant {
			role = "model"
		}

		var parts []wirePart

		for _, b := range m.Content {
			switch b.Type {
			case ir.ContentText:
				parts = append(parts, wirePart{Text: b.Text})
			case ir.ContentToolUse:
				parts = append(parts, wirePart{
					FunctionCall:     &wireFunctionCall{Name: b.ToolName, Args: b.ToolInput},
					ThoughtSignature: encodeThoughtSignature(b.ToolCallID),
				})
			case ir.ContentToolResult:
				parts = append(parts, wirePart{FunctionResponse: &wireFunctionResponse{Name: b.ToolResultForID, Response: normalizeFunctionResponse(b.ToolResult)}})
			case ir.ContentImage:
				parts = append(parts, imagePartFromBlock(b))
			}
		}

		wr.Contents = append(wr.Contents, wireContent{Role: role, Parts: parts})
	}

	return json.Marshal(wr)
}

// imagePartFromBlock renders an IR image block as a Gemini part: inline_data
// when the block carries base64 image bytes, file_data when it carries a
// remote URI instead.
func imagePartFromBlock(b ir.ContentBlock) wirePart {
	if b.ImageData != "" {
		return wirePart{InlineData: &wireInlineData{MimeType: b.MIMEType, Data: b.ImageData}}
	}

	return wirePart{FileData: &wireFileData{MimeType: b.MIMEType, FileURI: b.ImageURL}}
}

func normalizeFunctionResponse(v any) any {
	if s, ok := v.(string); ok {
		return map[string]any{"content": s}
	}

	if v == nil {
		return map[string]any{}
	}

	return v
}

var finishReasonFromGemini = map[string]ir.FinishReason{
	"STOP":                    ir.FinishStop,
	"MAX_TOKENS":              ir.FinishLength,
	"SAFETY":                  ir.FinishContentFilter,
	"RECITATION":              ir.FinishContentFilter,
	"MALFORMED_FUNCTION_CALL": ir.FinishToolUse,
	"OTHER":                   ir.FinishStop,
}

var finishReasonToGemini = map[ir.FinishReason]string{
	ir.FinishStop:          "STOP",
	ir.FinishLength:        "MAX_TOKENS",
	ir.FinishToolUse:       "STOP",
	ir.FinishContentFilter: "SAFETY",
	ir.FinishError:         "OTHER",
}

// isCandidateTokenCountInclusive reports whether CandidatesTokenCount already
// includes tokens also counted in PromptTokenCount (T1): when the three
// counters are disjoint, Prompt+Candidates==Total; some Gemini models report
// Total < Prompt+Candidates, meaning Candidates double-counts part of Prompt
// (e.g. echoed context), and OutputTokens must be derived from Total-Prompt
// instead of taken at face value.
func isCandidateTokenCountInclusive(u *wireUsageMetadata) bool {
	return u.TotalTokenCount > 0 && u.TotalTokenCount < u.PromptTokenCount+u.CandidatesTokenCount
}

func usageFromWire(u *wireUsageMetadata) ir.Usage {
	if u == nil {
		return ir.Usage{}
	}

	out := ir.Usage{InputTokens: u.PromptTokenCount, TotalTokens: u.TotalTokenCount}

	if isCandidateTokenCountInclusive(u) {
		out.OutputTokens = u.TotalTokenCount - u.PromptTokenCount
	} else {
		out.OutputTokens = u.CandidatesTokenCount
	}

	if out.TotalTokens == 0 {
		out.TotalTokens = out.InputTokens + out.OutputTokens
	}

	return out
}

// ToCoreResponse parses a complete (non-streaming) Gemini response.
func (a *Adapter) ToCoreResponse(raw []byte) (*ir.CoreResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderGemini, Details: fmt.Sprintf("unmarshal response: %v", err)}
	}

	if wr.Error != nil {
		return nil, &translerr.ConversionError{To: ir.ProviderGemini, Details: wr.Error.Message}
	}

	if len(wr.Candidates) == 0 {
		return nil, &translerr.ConversionError{To: ir.ProviderGemini, Details: "no candidates in response"}
	}

	candidate := wr.Candidates[0]

	resp := &ir.CoreResponse{ID: wr.ResponseID, Model: wr.ModelVersion, Role: ir.RoleAssistant}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				resp.Content = append(resp.Content, ir.ContentBlock{Type: ir.ContentText, Text: part.Text})
			}

			if part.FunctionCall != nil {
				id := mintToolCallID()
				if sigID, ok := decodeThoughtSignature(part.ThoughtSignature); ok {
					id = sigID
				}

				resp.Content = append(resp.Content, ir.ContentBlock{Type: ir.ContentToolUse, ToolCallID: id, ToolName: part.FunctionCall.Name, ToolInput: part.FunctionCall.Args})
				resp.ToolCalls = append(resp.ToolCalls, ir.ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
			}
		}
	}

	if fr, ok := finishReasonFromGemini[candidate.FinishReason]; ok {
		resp.FinishReason = fr
	}

	resp.Usage = usageFromWire(wr.UsageMetadata)

	return resp, nil
}

// FromCoreResponse renders the IR response as a Gemini generateContent body.
func (a *Adapter) FromCoreResponse(resp *ir.CoreResponse) ([]byte, error) {
	content := &wireContent{Role: "model"}

	for _, b := range resp.Content {
		switch b.Type {
		case ir.ContentText:
			content.Parts = append(content.Parts, wirePart{Text: b.Text})
		case ir.ContentToolUse:
			content.Parts = append(content.Parts, wirePart{
				FunctionCall:     &wireFunctionCall{Name: b.ToolName, Args: b.ToolInput},
				ThoughtSignature: encodeThoughtSignature(b.ToolCallID),
			})
		}
	}

	wr := wireResponse{
		ResponseID:   resp.ID,
		ModelVersion: resp.Model,
		Candidates: []wireCandidate{{
			Content:      content,
			FinishReason: finishReasonToGemini[resp.FinishReason],
		}},
		UsageMetadata: &wireUsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
	}

	return json.Marshal(wr)
}

// ToCoreStreamEvent parses one Gemini streamGenerateContent JSON chunk into
// the normalized StreamEvents it represents. As with the OpenAI dialect, a
// single chunk can fan out into several events: the first chunk of a session
// both primes metadata and may already carry the first token of real
// content, and the chunk carrying a finishReason must close every content
// block still open before stream_end.
func (a *Adapter) ToCoreStreamEvent(raw []byte) ([]*ir.StreamEvent, error) {
	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return []*ir.StreamEvent{a.NextEvent(&ir.StreamEvent{Type: ir.EventMetadataUpdate})}, nil
	}

	if a.messageID == "" {
		a.messageID = wr.ResponseID
	}

	if a.model == "" {
		a.model = wr.ModelVersion
	}

	var events []*ir.StreamEvent

	if !a.metadataSent {
		a.metadataSent = true
		events = append(events, &ir.StreamEvent{Type: ir.EventMetadataUpdate, MessageID: a.messageID, Model: a.model})
	}

	events = append(events, a.responseEvents(wr)...)

	if len(events) == 0 {
		events = append(events, &ir.StreamEvent{Type: ir.EventMetadataUpdate})
	}

	for _, e := range events {
		a.NextEvent(e)
	}

	return events, nil
}

// responseEvents converts one wire chunk's candidate payload into the
// StreamEvents it carries, without the leading metadata_update that
// ToCoreStreamEvent prepends on the first call.
func (a *Adapter) responseEvents(wr wireResponse) []*ir.StreamEvent {
	if len(wr.Candidates) == 0 {
		return nil
	}

	candidate := wr.Candidates[0]

	if candidate.FinishReason != "" {
		fr, ok := finishReasonFromGemini[candidate.FinishReason]
		if !ok {
			fr = ir.FinishStop
		}

		usage := usageFromWire(wr.UsageMetadata)

		events := a.closeOpenIndexes()

		return append(events, &ir.StreamEvent{Type: ir.EventStreamEnd, FinishReason: fr, Usage: &usage})
	}

	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil
	}

	part := candidate.Content.Parts[0]

	if part.FunctionCall != nil {
		id := mintToolCallID()
		if sigID, ok := decodeThoughtSignature(part.ThoughtSignature); ok {
			id = sigID
		}

		blockIdx := a.blockIndex
		a.blockIndex++
		a.openIndexes[blockIdx] = true

		args, _ := json.Marshal(part.FunctionCall.Args)

		return []*ir.StreamEvent{{
			Type: ir.EventToolCallDelta, Index: blockIdx,
			ToolCallID: id, ToolName: part.FunctionCall.Name, ArgumentsDelta: string(args),
		}}
	}

	if part.Text != "" {
		if !a.textStarted {
			a.textStarted = true
			a.openIndexes[a.textIndex] = true

			return []*ir.StreamEvent{
				{Type: ir.EventContentStart, Index: a.textIndex, Block: &ir.ContentBlock{Type: ir.ContentText}},
				{Type: ir.EventContentDelta, Index: a.textIndex, DeltaText: part.Text},
			}
		}

		return []*ir.StreamEvent{{Type: ir.EventContentDelta, Index: a.textIndex, DeltaText: part.Text}}
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

// FromCoreStreamEvent renders one normalized StreamEvent as a Gemini
// streamGenerateContent JSON chunk.
func (a *Adapter) FromCoreStreamEvent(event *ir.StreamEvent) ([]byte, error) {
	wr := wireResponse{ResponseID: event.MessageID, ModelVersion: event.Model}

	switch event.Type {
	case ir.EventContentDelta:
		wr.Candidates = []wireCandidate{{Content: &wireContent{Role: "model", Parts: []wirePart{{Text: event.DeltaText}}}}}
	case ir.EventToolCallDelta:
		var args map[string]any
		_ = json.Unmarshal([]byte(event.ArgumentsDelta), &args)

		wr.Candidates = []wireCandidate{{Content: &wireContent{Role: "model", Parts: []wirePart{{
			FunctionCall:     &wireFunctionCall{Name: event.ToolName, Args: args},
			ThoughtSignature: encodeThoughtSignature(event.ToolCallID),
		}}}}}
	case ir.EventStreamEnd:
		wr.Candidates = []wireCandidate{{FinishReason: finishReasonToGemini[event.FinishReason]}}

		if event.Usage != nil {
			wr.UsageMetadata = &wireUsageMetadata{
				PromptTokenCount:     event.Usage.InputTokens,
				CandidatesTokenCount: event.Usage.OutputTokens,
				TotalTokenCount:      event.Usage.TotalTokens,
			}
		}
	}

	return json.Marshal(wr)
}
