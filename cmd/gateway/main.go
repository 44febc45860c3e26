package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/duplexvoice/gateway/internal/env"
	"github.com/duplexvoice/gateway/internal/prompts"
	"github.com/duplexvoice/gateway/internal/session"
	"github.com/duplexvoice/gateway/internal/sttprovider"
	"github.com/duplexvoice/gateway/internal/trace"
	"github.com/duplexvoice/gateway/internal/ttsprovider"
	"github.com/duplexvoice/gateway/internal/wsgateway"
)

// tuning holds knobs loaded from a JSON file. These are values that may
// eventually move to a database; for now a JSON file keeps them out of env
// vars.
type tuning struct {
	LLMSystemPrompt string `json:"llm_system_prompt"`
	LLMMaxTokens    int    `json:"llm_max_tokens"`
	OpenAIURL       string `json:"openai_url"`
	OpenAIModel     string `json:"openai_model"`
}

// defaultTuning returns the defaults used when no tuning file is present.
func defaultTuning() tuning {
	return tuning{
		LLMSystemPrompt: prompts.DefaultSystem,
		LLMMaxTokens:    512,
		OpenAIURL:       "https://api.openai.com",
		OpenAIModel:     "gpt-4.1-nano",
	}
}

// loadTuning reads path if present, otherwise returns defaults.
func loadTuning(path string) tuning {
	t := defaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no config file, using defaults", "path", path)
		return t
	}
	if err = json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad config file, using defaults", "path", path, "error", err)
		return defaultTuning()
	}
	slog.Info("loaded config", "path", path)
	return t
}

func main() {
	logLevel := slog.LevelInfo
	if env.Str("LOG_LEVEL", "") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg := loadConfig()

	asrClient := sttprovider.NewClient("parakeet", cfg.parakeetURL)
	llmProvider := newLLMProvider(cfg)
	kokoro := ttsprovider.NewKokoroClient(cfg.kokoroURL)
	openaiTTS := ttsprovider.NewOpenAIClient(cfg.openaiAPIKey, "tts-1")

	var traceStore *trace.Store
	if cfg.postgresURL != "" {
		var err error
		traceStore, err = trace.Open(cfg.postgresURL)
		if err != nil {
			slog.Error("trace store open failed", "error", err)
		} else {
			slog.Info("tracing enabled", "postgres", cfg.postgresURL)
		}
	}

	handler := wsgateway.NewHandler(wsgateway.Deps{
		STTPrimary:   asrClient,
		STTProvider:  "parakeet",
		TTSKokoro:    kokoro,
		TTSOpenAI:    openaiTTS,
		LLMProvider:  llmProvider,
		LLMModel:     cfg.llmModel,
		LLMMaxTokens: cfg.llmMaxTokens,
		History:      session.NewHistory(),
		TraceStore:   traceStore,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler:  handler,
		traceStore: traceStore,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, traceStore)

	slog.Info("gateway starting", "addr", addr)

	var err error
	if cfg.tlsCert != "" && cfg.tlsKey != "" {
		err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then gracefully drains connections.
func awaitShutdown(srv *http.Server, traceStore *trace.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.Shutdown(ctx)

	if traceStore != nil {
		if err := traceStore.Close(); err != nil {
			slog.Warn("trace store close", "error", err)
		}
	}
}

func newLLMProvider(cfg config) agents.ModelProvider {
	if cfg.openaiAPIKey != "" {
		return agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.tuning.OpenAIURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.openaiAPIKey),
			UseResponses: param.NewOpt(true),
		})
	}
	return agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(cfg.tuning.OpenAIURL + "/v1/"),
		APIKey:       param.NewOpt("unset"),
		UseResponses: param.NewOpt(true),
	})
}
