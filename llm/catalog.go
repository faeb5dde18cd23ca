package llm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. ContextWindow sizes the token
// budget for conversation compaction.
var Models = []ModelInfo{
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 32768,
		Aliases: []string{"opus", "claude-opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 16384,
		Aliases: []string{"sonnet", "claude-sonnet"}},
	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 1047576, MaxOutput: 32768,
		Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: "openai", ContextWindow: 1047576, MaxOutput: 16384,
		Aliases: []string{"gpt5-mini"}},
	{ID: "gemini-3-pro-preview", Provider: "gemini", ContextWindow: 1048576, MaxOutput: 65536,
		Aliases: []string{"gemini-pro", "gemini-3-pro"}},
	{ID: "gemini-3-flash-preview", Provider: "gemini", ContextWindow: 1048576, MaxOutput: 65536,
		Aliases: []string{"gemini-flash", "gemini-3-flash"}},
}

// LookupModel returns the catalog entry for a model ID or alias, or nil.
func LookupModel(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// DefaultModel returns the first catalog model for a provider, or nil.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// ContextWindowFor returns the context window for a model, falling back
// to a conservative default when the model is unknown.
func ContextWindowFor(modelID string) int {
	if info := LookupModel(modelID); info != nil {
		return info.ContextWindow
	}
	return 128000
}
