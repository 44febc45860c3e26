package main

import "github.com/duplexvoice/gateway/internal/env"

// config composes deployment env vars (URLs, ports, keys) with the tuning
// file (operational knobs).
type config struct {
	port         string
	tlsCert      string
	tlsKey       string
	parakeetURL  string
	cloudSTTURL  string
	kokoroURL    string
	openaiAPIKey string
	postgresURL  string
	llmModel     string
	llmMaxTokens int
	tuning       tuning
}

func loadConfig() config {
	t := loadTuning(env.Str("GATEWAY_TUNING_FILE", "gateway.json"))

	return config{
		port:         env.Str("PORT", "8788"),
		tlsCert:      env.Str("TLS_CERT", ""),
		tlsKey:       env.Str("TLS_KEY", ""),
		parakeetURL:  env.Str("PARAKEET_URL", "http://localhost:8500"),
		cloudSTTURL:  env.Str("CLOUD_STT_URL", ""),
		kokoroURL:    env.Str("KOKORO_URL", "http://localhost:8880"),
		openaiAPIKey: env.Str("OPENAI_API_KEY", ""),
		postgresURL:  env.Str("POSTGRES_URL", ""),
		llmModel:     t.OpenAIModel,
		llmMaxTokens: t.LLMMaxTokens,
		tuning:       t,
	}
}
