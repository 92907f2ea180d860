package adapters

// FieldAlias names, for one logical IR concept, what each dialect calls the
// corresponding wire field. The adapters map these fields in their own code
// and do not read this table; Alias looks a name up in it.
type FieldAlias struct {
	IR        string
	OpenAI    string
	Anthropic string
	Gemini    string
}

// Aliases is the field-name cross-reference for spec C2. It lists the main
// fields the three adapters exchange through the IR; others, such as the
// penalty parameters and the stream flag, have no entry.
var Aliases = []FieldAlias{
	{IR: "model", OpenAI: "model", Anthropic: "model", Gemini: "model"},
	{IR: "system_instruction", OpenAI: "messages[role=system].content", Anthropic: "system", Gemini: "systemInstruction"},
	{IR: "messages", OpenAI: "messages", Anthropic: "messages", Gemini: "contents"},
	{IR: "tools", OpenAI: "tools", Anthropic: "tools", Gemini: "tools.functionDeclarations"},
	{IR: "sampling.max_tokens", OpenAI: "max_tokens", Anthropic: "max_tokens", Gemini: "generationConfig.maxOutputTokens"},
	{IR: "sampling.temperature", OpenAI: "temperature", Anthropic: "temperature", Gemini: "generationConfig.temperature"},
	{IR: "sampling.top_p", OpenAI: "top_p", Anthropic: "top_p", Gemini: "generationConfig.topP"},
	{IR: "sampling.top_k", OpenAI: "-", Anthropic: "top_k", Gemini: "generationConfig.topK"},
	{IR: "sampling.stop_sequences", OpenAI: "stop", Anthropic: "stop_sequences", Gemini: "generationConfig.stopSequences"},
	{IR: "tool_call.id", OpenAI: "tool_calls[].id", Anthropic: "content[type=tool_use].id", Gemini: "-"},
	{IR: "tool_call.name", OpenAI: "tool_calls[].function.name", Anthropic: "content[type=tool_use].name", Gemini: "content.parts[].functionCall.name"},
	{IR: "tool_call.arguments", OpenAI: "tool_calls[].function.arguments", Anthropic: "content[type=tool_use].input", Gemini: "content.parts[].functionCall.args"},
	{IR: "usage.input_tokens", OpenAI: "usage.prompt_tokens", Anthropic: "usage.input_tokens", Gemini: "usageMetadata.promptTokenCount"},
	{IR: "usage.output_tokens", OpenAI: "usage.completion_tokens", Anthropic: "usage.output_tokens", Gemini: "usageMetadata.candidatesTokenCount"},
	{IR: "usage.cache_read_input_tokens", OpenAI: "usage.prompt_tokens_details.cached_tokens", Anthropic: "usage.cache_read_input_tokens", Gemini: "usageMetadata.cachedContentTokenCount"},
	{IR: "finish_reason", OpenAI: "choices[].finish_reason", Anthropic: "stop_reason", Gemini: "candidates[].finishReason"},
}

// Alias returns the dialect-specific name of irField for provider, or "" if
// irField is unknown.
func Alias(irField, provider string) string {
	for _, a := range Aliases {
		if a.IR != irField {
			continue
		}

		switch provider {
		case "openai":
			return a.OpenAI
		case "anthropic":
			return a.Anthropic
		case "gemini":
			return a.Gemini
		}
	}

	return ""
}
