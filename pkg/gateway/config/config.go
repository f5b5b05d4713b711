package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const envPrefix = "VAI_INTERVIEW_"

type Config struct {
	Addr      string
	LogFormat string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORSAllowedOrigins also gates the websocket Origin check. A "*" entry allows any origin.
	CORSAllowedOrigins map[string]struct{}

	// RedisAddr selects the Redis session cache; empty keeps sessions in process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration
	BackendRetries int

	LLMProvider    string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	GeminiAPIKey   string
	GeminiModel    string
	LLMTimeout     time.Duration
	LLMTemperature float64
	LLMMaxTokens   int

	VoiceProvider  string
	CartesiaAPIKey string
	STTModel       string
	TTSModel       string
	TTSVoice       string

	SampleRate             int
	VADThreshold           float64
	SilenceCommit          time.Duration
	MaxUtterance           time.Duration
	AudioChunkBytes        int
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int

	WSMaxMessageBytes int64
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration

	AutoEvaluate bool

	// DatabaseURL enables the Postgres evaluation archive.
	DatabaseURL string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LLMAPIKey returns the credential for the selected LLM provider.
func (c Config) LLMAPIKey() string {
	if strings.EqualFold(c.LLMProvider, "gemini") {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

// LLMModel returns the model for the selected LLM provider.
func (c Config) LLMModel() string {
	if strings.EqualFold(c.LLMProvider, "gemini") {
		return c.GeminiModel
	}
	return c.OpenAIModel
}

// VoiceAPIKey returns the credential for the selected speech provider.
func (c Config) VoiceAPIKey() string {
	if strings.EqualFold(c.VoiceProvider, "cartesia") {
		return c.CartesiaAPIKey
	}
	return c.OpenAIAPIKey
}

// OriginAllowed reports whether a browser origin may call the gateway.
// Requests without an Origin header are always allowed.
func (c Config) OriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	if _, ok := c.CORSAllowedOrigins["*"]; ok {
		return true
	}
	_, ok := c.CORSAllowedOrigins[origin]
	return ok
}

// LoadFromEnv reads the configuration from the environment. When
// VAI_INTERVIEW_CONFIG_FILE names a YAML file, its keys provide the defaults;
// environment variables always win.
func LoadFromEnv() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG_FILE")); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}
	return load(src)
}

// LoadFile reads a flat YAML mapping. Keys are the variable names without the
// VAI_INTERVIEW_ prefix, in any case (redis_addr, session_ttl, openai_api_key).
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		if list, ok := v.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			out[strings.ToLower(k)] = strings.Join(parts, ",")
			continue
		}
		out[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func load(src source) (Config, error) {
	cfg := Config{
		Addr:                   src.envOr(envPrefix+"ADDR", ":8000"),
		LogFormat:              strings.ToLower(src.envOr(envPrefix+"LOG_FORMAT", "text")),
		AuthMode:               AuthMode(strings.ToLower(src.envOr(envPrefix+"AUTH_MODE", string(AuthModeDisabled)))),
		APIKeys:                make(map[string]struct{}),
		CORSAllowedOrigins:     make(map[string]struct{}),
		RedisAddr:              src.envOr(envPrefix+"REDIS_ADDR", "localhost:6379"),
		RedisPassword:          src.envOr(envPrefix+"REDIS_PASSWORD", ""),
		RedisDB:                src.envIntOr(envPrefix+"REDIS_DB", 0),
		SessionTTL:             src.envDurationOr(envPrefix+"SESSION_TTL", time.Hour),
		BackendURL:             src.envOr(envPrefix+"BACKEND_URL", "http://localhost:8080/api/interviews/"),
		BackendAPIKey:          src.envOr(envPrefix+"BACKEND_API_KEY", ""),
		BackendTimeout:         src.envDurationOr(envPrefix+"BACKEND_TIMEOUT", 10*time.Second),
		BackendRetries:         src.envIntOr(envPrefix+"BACKEND_RETRIES", 2),
		LLMProvider:            strings.ToLower(src.envOr(envPrefix+"LLM_PROVIDER", "openai")),
		OpenAIAPIKey:           src.envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          src.envOr(envPrefix+"OPENAI_BASE_URL", ""),
		OpenAIModel:            src.envOr(envPrefix+"OPENAI_MODEL", "gpt-4o"),
		GeminiAPIKey:           src.envOr("GEMINI_API_KEY", ""),
		GeminiModel:            src.envOr(envPrefix+"GEMINI_MODEL", "gemini-2.0-flash"),
		LLMTimeout:             src.envDurationOr(envPrefix+"LLM_TIMEOUT", 30*time.Second),
		LLMTemperature:         src.envFloat64Or(envPrefix+"LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:           src.envIntOr(envPrefix+"LLM_MAX_TOKENS", 500),
		VoiceProvider:          strings.ToLower(src.envOr(envPrefix+"VOICE_PROVIDER", "openai")),
		CartesiaAPIKey:         src.envOr("CARTESIA_API_KEY", ""),
		STTModel:               src.envOr(envPrefix+"STT_MODEL", "whisper-1"),
		TTSModel:               src.envOr(envPrefix+"TTS_MODEL", "tts-1"),
		TTSVoice:               src.envOr(envPrefix+"TTS_VOICE", "alloy"),
		SampleRate:             src.envIntOr(envPrefix+"SAMPLE_RATE", 16000),
		VADThreshold:           src.envFloat64Or(envPrefix+"VAD_THRESHOLD", 0.02),
		SilenceCommit:          src.envDurationOr(envPrefix+"SILENCE_COMMIT", 600*time.Millisecond),
		MaxUtterance:           src.envDurationOr(envPrefix+"MAX_UTTERANCE", 15*time.Second),
		AudioChunkBytes:        src.envIntOr(envPrefix+"AUDIO_CHUNK_BYTES", 4096),
		MaxAudioFPS:            src.envIntOr(envPrefix+"MAX_AUDIO_FPS", 50),
		MaxAudioBytesPerSecond: src.envInt64Or(envPrefix+"MAX_AUDIO_BPS", 64000),
		InboundBurstSeconds:    src.envIntOr(envPrefix+"INBOUND_BURST_SECONDS", 2),
		WSMaxMessageBytes:      src.envInt64Or(envPrefix+"WS_MAX_MESSAGE_BYTES", 1<<20),
		WSPingInterval:         src.envDurationOr(envPrefix+"WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         src.envDurationOr(envPrefix+"WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:          src.envDurationOr(envPrefix+"WS_READ_TIMEOUT", 0),
		AutoEvaluate:           src.envBoolOr(envPrefix+"AUTO_EVALUATE", false),
		DatabaseURL:            src.envOr(envPrefix+"DATABASE_URL", ""),
		ReadHeaderTimeout:      src.envDurationOr(envPrefix+"READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    src.envDurationOr(envPrefix+"SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_AUTH_MODE must be one of required|optional|disabled")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LOG_FORMAT must be one of text|json")
	}
	switch cfg.LLMProvider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LLM_PROVIDER must be one of openai|gemini")
	}
	switch cfg.VoiceProvider {
	case "openai", "cartesia":
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_VOICE_PROVIDER must be one of openai|cartesia")
	}

	for _, key := range splitCSV(src.lookup(envPrefix + "API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	origins := src.lookup(envPrefix + "CORS_ORIGINS")
	if origins == "" {
		origins = "*"
	}
	for _, origin := range splitCSV(origins) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.BackendURL) == "" {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_BACKEND_URL must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_SESSION_TTL must be > 0")
	}
	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_REDIS_DB must be >= 0")
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_BACKEND_TIMEOUT must be > 0")
	}
	if cfg.BackendRetries < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_BACKEND_RETRIES must be >= 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LLM_TIMEOUT must be > 0")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LLM_MAX_TOKENS must be > 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_SAMPLE_RATE must be > 0")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold >= 1 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_VAD_THRESHOLD must be within (0, 1)")
	}
	if cfg.SilenceCommit < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_SILENCE_COMMIT must be >= 0")
	}
	if cfg.MaxUtterance <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_MAX_UTTERANCE must be > 0")
	}
	if cfg.AudioChunkBytes <= 0 || cfg.AudioChunkBytes%2 != 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_AUDIO_CHUNK_BYTES must be a positive even number")
	}
	if cfg.MaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_API_KEYS must be set when VAI_INTERVIEW_AUTH_MODE=required")
	}

	return cfg, nil
}

// source resolves a variable from the environment, then the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if s.file == nil {
		return ""
	}
	return strings.TrimSpace(s.file[strings.ToLower(strings.TrimPrefix(key, envPrefix))])
}

func (s source) envOr(key, def string) string {
	v := s.lookup(key)
	if v == "" {
		return def
	}
	return v
}

func (s source) envInt64Or(key string, def int64) int64 {
	raw := s.lookup(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (s source) envIntOr(key string, def int) int {
	raw := s.lookup(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (s source) envFloat64Or(key string, def float64) float64 {
	raw := s.lookup(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func (s source) envBoolOr(key string, def bool) bool {
	raw := s.lookup(key)
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func (s source) envDurationOr(key string, def time.Duration) time.Duration {
	raw := s.lookup(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
