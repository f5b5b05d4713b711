package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"VAI_INTERVIEW_CONFIG_FILE",
	"VAI_INTERVIEW_ADDR",
	"VAI_INTERVIEW_LOG_FORMAT",
	"VAI_INTERVIEW_AUTH_MODE",
	"VAI_INTERVIEW_API_KEYS",
	"VAI_INTERVIEW_CORS_ORIGINS",
	"VAI_INTERVIEW_REDIS_ADDR",
	"VAI_INTERVIEW_REDIS_PASSWORD",
	"VAI_INTERVIEW_REDIS_DB",
	"VAI_INTERVIEW_SESSION_TTL",
	"VAI_INTERVIEW_BACKEND_URL",
	"VAI_INTERVIEW_BACKEND_API_KEY",
	"VAI_INTERVIEW_BACKEND_TIMEOUT",
	"VAI_INTERVIEW_BACKEND_RETRIES",
	"VAI_INTERVIEW_LLM_PROVIDER",
	"OPENAI_API_KEY",
	"VAI_INTERVIEW_OPENAI_BASE_URL",
	"VAI_INTERVIEW_OPENAI_MODEL",
	"GEMINI_API_KEY",
	"VAI_INTERVIEW_GEMINI_MODEL",
	"VAI_INTERVIEW_LLM_TIMEOUT",
	"VAI_INTERVIEW_LLM_TEMPERATURE",
	"VAI_INTERVIEW_LLM_MAX_TOKENS",
	"VAI_INTERVIEW_VOICE_PROVIDER",
	"CARTESIA_API_KEY",
	"VAI_INTERVIEW_STT_MODEL",
	"VAI_INTERVIEW_TTS_MODEL",
	"VAI_INTERVIEW_TTS_VOICE",
	"VAI_INTERVIEW_SAMPLE_RATE",
	"VAI_INTERVIEW_VAD_THRESHOLD",
	"VAI_INTERVIEW_SILENCE_COMMIT",
	"VAI_INTERVIEW_MAX_UTTERANCE",
	"VAI_INTERVIEW_AUDIO_CHUNK_BYTES",
	"VAI_INTERVIEW_MAX_AUDIO_FPS",
	"VAI_INTERVIEW_MAX_AUDIO_BPS",
	"VAI_INTERVIEW_INBOUND_BURST_SECONDS",
	"VAI_INTERVIEW_WS_MAX_MESSAGE_BYTES",
	"VAI_INTERVIEW_WS_PING_INTERVAL",
	"VAI_INTERVIEW_WS_WRITE_TIMEOUT",
	"VAI_INTERVIEW_WS_READ_TIMEOUT",
	"VAI_INTERVIEW_AUTO_EVALUATE",
	"VAI_INTERVIEW_DATABASE_URL",
	"VAI_INTERVIEW_READ_HEADER_TIMEOUT",
	"VAI_INTERVIEW_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8000" {
		t.Fatalf("Addr = %q, want :8000", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeDisabled)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if _, ok := cfg.CORSAllowedOrigins["*"]; !ok || len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("CORSAllowedOrigins = %v, want {*}", cfg.CORSAllowedOrigins)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 0 {
		t.Fatalf("Redis = %q/%d", cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.BackendURL != "http://localhost:8080/api/interviews/" {
		t.Fatalf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.BackendTimeout != 10*time.Second || cfg.BackendRetries != 2 {
		t.Fatalf("Backend timeout/retries = %v/%d", cfg.BackendTimeout, cfg.BackendRetries)
	}
	if cfg.LLMProvider != "openai" || cfg.OpenAIModel != "gpt-4o" || cfg.GeminiModel != "gemini-2.0-flash" {
		t.Fatalf("LLM = %q %q %q", cfg.LLMProvider, cfg.OpenAIModel, cfg.GeminiModel)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Fatalf("LLMTimeout = %v, want 30s", cfg.LLMTimeout)
	}
	if cfg.LLMTemperature != 0.7 || cfg.LLMMaxTokens != 500 {
		t.Fatalf("LLM sampling = %v/%d", cfg.LLMTemperature, cfg.LLMMaxTokens)
	}
	if cfg.VoiceProvider != "openai" || cfg.STTModel != "whisper-1" || cfg.TTSModel != "tts-1" || cfg.TTSVoice != "alloy" {
		t.Fatalf("voice = %q %q %q %q", cfg.VoiceProvider, cfg.STTModel, cfg.TTSModel, cfg.TTSVoice)
	}
	if cfg.SampleRate != 16000 || cfg.VADThreshold != 0.02 {
		t.Fatalf("SampleRate/VADThreshold = %d/%v", cfg.SampleRate, cfg.VADThreshold)
	}
	if cfg.SilenceCommit != 600*time.Millisecond || cfg.MaxUtterance != 15*time.Second {
		t.Fatalf("SilenceCommit/MaxUtterance = %v/%v", cfg.SilenceCommit, cfg.MaxUtterance)
	}
	if cfg.AudioChunkBytes != 4096 {
		t.Fatalf("AudioChunkBytes = %d, want 4096", cfg.AudioChunkBytes)
	}
	if cfg.MaxAudioFPS != 50 || cfg.MaxAudioBytesPerSecond != 64000 || cfg.InboundBurstSeconds != 2 {
		t.Fatalf("inbound limits = %d/%d/%d", cfg.MaxAudioFPS, cfg.MaxAudioBytesPerSecond, cfg.InboundBurstSeconds)
	}
	if cfg.WSMaxMessageBytes != 1<<20 {
		t.Fatalf("WSMaxMessageBytes = %d, want %d", cfg.WSMaxMessageBytes, 1<<20)
	}
	if cfg.WSPingInterval != 20*time.Second || cfg.WSWriteTimeout != 5*time.Second || cfg.WSReadTimeout != 0 {
		t.Fatalf("ws timings = %v/%v/%v", cfg.WSPingInterval, cfg.WSWriteTimeout, cfg.WSReadTimeout)
	}
	if cfg.AutoEvaluate {
		t.Fatalf("AutoEvaluate = true, want false")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VAI_INTERVIEW_ADDR", ":9090")
	t.Setenv("VAI_INTERVIEW_LOG_FORMAT", "JSON")
	t.Setenv("VAI_INTERVIEW_AUTH_MODE", "required")
	t.Setenv("VAI_INTERVIEW_API_KEYS", "k1, k2")
	t.Setenv("VAI_INTERVIEW_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VAI_INTERVIEW_REDIS_ADDR", "redis:6380")
	t.Setenv("VAI_INTERVIEW_REDIS_DB", "3")
	t.Setenv("VAI_INTERVIEW_SESSION_TTL", "30m")
	t.Setenv("VAI_INTERVIEW_BACKEND_RETRIES", "0")
	t.Setenv("VAI_INTERVIEW_LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VAI_INTERVIEW_VOICE_PROVIDER", "cartesia")
	t.Setenv("CARTESIA_API_KEY", "c-key")
	t.Setenv("VAI_INTERVIEW_SILENCE_COMMIT", "0s")
	t.Setenv("VAI_INTERVIEW_MAX_AUDIO_FPS", "0")
	t.Setenv("VAI_INTERVIEW_MAX_AUDIO_BPS", "0")
	t.Setenv("VAI_INTERVIEW_INBOUND_BURST_SECONDS", "0")
	t.Setenv("VAI_INTERVIEW_AUTO_EVALUATE", "yes")
	t.Setenv("VAI_INTERVIEW_DATABASE_URL", "postgres://localhost/interviews")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.LogFormat != "json" || cfg.AuthMode != AuthModeRequired {
		t.Fatalf("addr/log/auth = %q/%q/%q", cfg.Addr, cfg.LogFormat, cfg.AuthMode)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys = %v", cfg.APIKeys)
	}
	if _, ok := cfg.APIKeys["k2"]; !ok {
		t.Fatalf("APIKeys missing trimmed k2: %v", cfg.APIKeys)
	}
	if !cfg.OriginAllowed("https://b.example") || cfg.OriginAllowed("https://evil.example") || !cfg.OriginAllowed("") {
		t.Fatalf("origin check wrong for %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RedisAddr != "redis:6380" || cfg.RedisDB != 3 || cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("redis = %q/%d/%v", cfg.RedisAddr, cfg.RedisDB, cfg.SessionTTL)
	}
	if cfg.BackendRetries != 0 {
		t.Fatalf("BackendRetries = %d, want 0", cfg.BackendRetries)
	}
	if cfg.LLMAPIKey() != "g-key" || cfg.LLMModel() != "gemini-2.0-flash" {
		t.Fatalf("LLM key/model = %q/%q", cfg.LLMAPIKey(), cfg.LLMModel())
	}
	if cfg.VoiceAPIKey() != "c-key" {
		t.Fatalf("VoiceAPIKey = %q, want c-key", cfg.VoiceAPIKey())
	}
	if cfg.SilenceCommit != 0 {
		t.Fatalf("SilenceCommit = %v, want 0", cfg.SilenceCommit)
	}
	if !cfg.AutoEvaluate || cfg.DatabaseURL == "" {
		t.Fatalf("AutoEvaluate/DatabaseURL = %v/%q", cfg.AutoEvaluate, cfg.DatabaseURL)
	}
}

func TestLoadFromEnv_ConfigFileIsOverriddenByEnv(t *testing.T) {
	clearGatewayEnv(t)
	path := filepath.Join(t.TempDir(), "interview.yaml")
	body := strings.Join([]string{
		"addr: \":7000\"",
		"session_ttl: 2h",
		"max_audio_fps: 25",
		"auto_evaluate: true",
		"cors_origins:",
		"  - https://app.example",
		"openai_api_key: sk-file",
		"LLM_TEMPERATURE: 0.2",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("VAI_INTERVIEW_CONFIG_FILE", path)
	t.Setenv("VAI_INTERVIEW_SESSION_TTL", "5m")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("Addr = %q, want :7000 from file", cfg.Addr)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("SessionTTL = %v, want env override 5m", cfg.SessionTTL)
	}
	if cfg.MaxAudioFPS != 25 || !cfg.AutoEvaluate {
		t.Fatalf("MaxAudioFPS/AutoEvaluate = %d/%v", cfg.MaxAudioFPS, cfg.AutoEvaluate)
	}
	if cfg.OpenAIAPIKey != "sk-file" || cfg.LLMTemperature != 0.2 {
		t.Fatalf("OpenAIAPIKey/LLMTemperature = %q/%v", cfg.OpenAIAPIKey, cfg.LLMTemperature)
	}
	if !cfg.OriginAllowed("https://app.example") || cfg.OriginAllowed("https://other.example") {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_MissingConfigFile(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VAI_INTERVIEW_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "auth mode", env: map[string]string{"VAI_INTERVIEW_AUTH_MODE": "sometimes"}, wantErr: "VAI_INTERVIEW_AUTH_MODE"},
		{name: "required without keys", env: map[string]string{"VAI_INTERVIEW_AUTH_MODE": "required"}, wantErr: "VAI_INTERVIEW_API_KEYS"},
		{name: "log format", env: map[string]string{"VAI_INTERVIEW_LOG_FORMAT": "xml"}, wantErr: "VAI_INTERVIEW_LOG_FORMAT"},
		{name: "llm provider", env: map[string]string{"VAI_INTERVIEW_LLM_PROVIDER": "llama"}, wantErr: "VAI_INTERVIEW_LLM_PROVIDER"},
		{name: "voice provider", env: map[string]string{"VAI_INTERVIEW_VOICE_PROVIDER": "say"}, wantErr: "VAI_INTERVIEW_VOICE_PROVIDER"},
		{name: "session ttl", env: map[string]string{"VAI_INTERVIEW_SESSION_TTL": "-1s"}, wantErr: "VAI_INTERVIEW_SESSION_TTL"},
		{name: "retries", env: map[string]string{"VAI_INTERVIEW_BACKEND_RETRIES": "-1"}, wantErr: "VAI_INTERVIEW_BACKEND_RETRIES"},
		{name: "temperature", env: map[string]string{"VAI_INTERVIEW_LLM_TEMPERATURE": "3"}, wantErr: "VAI_INTERVIEW_LLM_TEMPERATURE"},
		{name: "vad threshold", env: map[string]string{"VAI_INTERVIEW_VAD_THRESHOLD": "1.5"}, wantErr: "VAI_INTERVIEW_VAD_THRESHOLD"},
		{name: "odd chunk", env: map[string]string{"VAI_INTERVIEW_AUDIO_CHUNK_BYTES": "4095"}, wantErr: "VAI_INTERVIEW_AUDIO_CHUNK_BYTES"},
		{name: "burst", env: map[string]string{"VAI_INTERVIEW_INBOUND_BURST_SECONDS": "0"}, wantErr: "VAI_INTERVIEW_INBOUND_BURST_SECONDS"},
		{name: "ws read timeout", env: map[string]string{"VAI_INTERVIEW_WS_READ_TIMEOUT": "-1s"}, wantErr: "VAI_INTERVIEW_WS_READ_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_InvalidNumbersFallBackToDefaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VAI_INTERVIEW_REDIS_DB", "abc")
	t.Setenv("VAI_INTERVIEW_LLM_TIMEOUT", "soon")
	t.Setenv("VAI_INTERVIEW_AUTO_EVALUATE", "maybe")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.RedisDB != 0 || cfg.LLMTimeout != 30*time.Second || cfg.AutoEvaluate {
		t.Fatalf("fallbacks = %d/%v/%v", cfg.RedisDB, cfg.LLMTimeout, cfg.AutoEvaluate)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,, c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("splitCSV = %q", got)
	}
	if splitCSV("   ") != nil {
		t.Fatalf("splitCSV(blank) should be nil")
	}
}
