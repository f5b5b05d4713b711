package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/llm"
	"github.com/vango-go/vai-interview/pkg/core/voice"
	"github.com/vango-go/vai-interview/pkg/core/voice/stt"
	"github.com/vango-go/vai-interview/pkg/core/voice/tts"
	"github.com/vango-go/vai-interview/pkg/core/voice/vad"
	"github.com/vango-go/vai-interview/pkg/gateway/archive"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/handlers"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-interview/pkg/gateway/server"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/gateway/upstream"
)

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// newGateway builds every process-wide dependency. The returned cleanup
// releases them in reverse order and is safe to call once.
func newGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*gatewayserver.Server, func(), error) {
		cleanup()
		return nil, nil, err
	}

	m := metrics.New("")
	httpClient := newHTTPClient()
	readyChecks := map[string]handlers.ReadyCheck{}

	llmCfg := llm.Config{
		Provider:    cfg.LLMProvider,
		APIKey:      cfg.LLMAPIKey(),
		Model:       cfg.LLMModel(),
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		HTTPClient:  httpClient,
	}
	if cfg.LLMProvider == "openai" {
		llmCfg.BaseURL = cfg.OpenAIBaseURL
	}
	provider, err := llm.New(ctx, llmCfg)
	switch {
	case errors.Is(err, llm.ErrMissingCredential):
		logger.Warn("llm credential not set, questions will use a placeholder", "llm_provider", cfg.LLMProvider)
	case err != nil:
		return fail(fmt.Errorf("llm provider: %w", err))
	}
	engine := conversation.New(conversation.Config{
		Provider:   provider,
		Timeout:    cfg.LLMTimeout,
		Logger:     logger,
		OnFallback: m.EngineFallback,
	})

	backend, err := upstream.New(upstream.Config{
		BaseURL:    cfg.BackendURL,
		APIKey:     cfg.BackendAPIKey,
		Timeout:    cfg.BackendTimeout,
		Retries:    cfg.BackendRetries,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return fail(fmt.Errorf("backend client: %w", err))
	}

	var cache store.Cache
	if cfg.RedisAddr != "" {
		rc, err := store.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		readyChecks["redis"] = rc.Ping
		cache = rc
	} else {
		logger.Warn("redis address not set, sessions are cached in process memory")
		cache = store.NewMemoryCache()
	}
	sessions := store.New(store.Config{
		Cache:   cache,
		Fetcher: backend,
		TTL:     cfg.SessionTTL,
		Logger:  logger,
		OnDegraded: func(string, error) {
			m.SessionDegraded()
		},
	})

	deps := gatewayserver.Deps{
		Engine:      engine,
		Store:       sessions,
		Upstream:    backend,
		Metrics:     m,
		ReadyChecks: readyChecks,
	}

	if cfg.DatabaseURL != "" {
		pg, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("archive: %w", err))
		}
		closers = append(closers, pg.Close)
		readyChecks["archive"] = pg.Ping
		deps.Archive = pg
	}

	caps, err := newVoice(ctx, cfg, logger, httpClient)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if err := caps.Close(); err != nil {
			logger.Warn("voice shutdown failed", "error", err)
		}
	})
	deps.Voice = caps

	return gatewayserver.New(cfg, logger, deps), cleanup, nil
}

// newVoice always carries a speech detector. Transcription and synthesis are
// only wired when the selected speech provider has a credential; without
// them voice interviews fall back to text frames.
func newVoice(ctx context.Context, cfg config.Config, logger *slog.Logger, httpClient *http.Client) (*voice.Capabilities, error) {
	caps := &voice.Capabilities{VAD: vad.NewEnergy(cfg.VADThreshold)}

	if key := cfg.VoiceAPIKey(); key != "" {
		transcriber, err := stt.New(stt.Config{Provider: cfg.VoiceProvider, APIKey: key, HTTPClient: httpClient})
		if err != nil {
			return nil, fmt.Errorf("speech-to-text: %w", err)
		}
		synthesizer, err := tts.New(tts.Config{Provider: cfg.VoiceProvider, APIKey: key, HTTPClient: httpClient})
		if err != nil {
			return nil, fmt.Errorf("text-to-speech: %w", err)
		}
		caps.STT = transcriber
		caps.TTS = synthesizer
	} else {
		logger.Warn("speech credential not set, voice interviews will use text frames", "voice_provider", cfg.VoiceProvider)
	}

	if err := caps.Init(ctx); err != nil {
		return nil, fmt.Errorf("voice init: %w", err)
	}
	return caps, nil
}
