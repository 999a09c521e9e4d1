// Package llm provides the provider gateway for PatCode: a set of
// interchangeable LLM backend adapters (a local Ollama daemon plus hosted
// Groq and OpenAI APIs), automatic failover between them, availability
// caching, rate limiting, and per-provider usage statistics.
//
// The central type is Gateway. Callers hand it an ordered conversation and
// receive text back; everything about which backend actually served the
// request is the gateway's business:
//
//	gw, err := llm.NewGateway(llm.GatewayConfig{
//	    DefaultProvider: "ollama",
//	    FallbackOrder:   []string{"ollama", "groq", "openai"},
//	})
//	if err != nil { ... }
//	gw.Register(llm.NewOllamaAdapter(llm.OllamaConfig{Model: "qwen2.5-coder"}))
//
//	text, err := gw.Generate(ctx, []llm.Message{
//	    {Role: llm.RoleUser, Content: "explain this stack trace"},
//	})
package llm
