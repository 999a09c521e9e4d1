package llm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	Local         bool     `json:"local"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is
// that provider's default.
var Models = []ModelInfo{
	// Ollama (local daemon; context windows depend on how the model was
	// pulled, these are the stock values)
	{
		ID: "qwen2.5-coder:7b", Provider: "ollama", DisplayName: "Qwen 2.5 Coder 7B",
		ContextWindow: 32768, Local: true,
		Aliases: []string{"qwen2.5-coder", "qwen-coder"},
	},
	{
		ID: "llama3.2:3b", Provider: "ollama", DisplayName: "Llama 3.2 3B",
		ContextWindow: 131072, Local: true,
		Aliases: []string{"llama3.2"},
	},
	{
		ID: "deepseek-coder-v2:16b", Provider: "ollama", DisplayName: "DeepSeek Coder V2 16B",
		ContextWindow: 163840, Local: true,
		Aliases: []string{"deepseek-coder-v2"},
	},

	// Groq
	{
		ID: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B Versatile",
		ContextWindow: 131072,
		Aliases: []string{"llama-70b"},
	},
	{
		ID: "llama-3.1-8b-instant", Provider: "groq", DisplayName: "Llama 3.1 8B Instant",
		ContextWindow: 131072,
		Aliases: []string{"llama-8b"},
	},

	// OpenAI
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000,
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000,
		Aliases: []string{"4o"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
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

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the default model ID for a provider, or "" if the
// provider has no catalog entries.
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
