// Package config loads gateway configuration from the environment, with
// an optional YAML overlay for deployments that prefer a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineBackend selects which model provider drives conversations.
type EngineBackend string

const (
	EngineOpenAI EngineBackend = "openai"
	EngineGemini EngineBackend = "gemini"
)

// Config holds everything the gateway needs to run.
type Config struct {
	Addr      string `yaml:"addr"`
	DebugMode bool   `yaml:"debug_mode"`

	// AdminToken guards the monitor and settings API. Empty means open in
	// debug mode and locked in production.
	AdminToken string `yaml:"admin_token"`

	// Workflows
	WorkflowDir     string `yaml:"workflow_dir"`
	DefaultWorkflow string `yaml:"default_workflow"`

	// Engine
	EngineBackend     EngineBackend `yaml:"engine_backend"`
	EngineConcurrency int           `yaml:"engine_concurrency"`
	ChatModel         string        `yaml:"chat_model"`
	GeminiModel       string        `yaml:"gemini_model"`

	// Provider credentials
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`

	// Voice
	STTModel string `yaml:"stt_model"`
	TTSModel string `yaml:"tts_model"`
	TTSVoice string `yaml:"tts_voice"`

	// Listing search
	QdrantAddr       string `yaml:"qdrant_addr"`
	QdrantAPIKey     string `yaml:"qdrant_api_key"`
	QdrantCollection string `yaml:"qdrant_collection"`
	EmbeddingModel   string `yaml:"embedding_model"`
	SearchTopK       int    `yaml:"search_top_k"`

	// Calendar
	CalendarID string `yaml:"calendar_id"`
	Timezone   string `yaml:"timezone"`

	// Session snapshots. RedisAddr empty means in-memory only.
	RedisAddr  string        `yaml:"redis_addr"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	// Bookings database. Empty disables persistence.
	DatabaseURL string `yaml:"database_url"`

	// Twilio, for media streams and TURN credentials.
	TwilioAccountSID string `yaml:"twilio_account_sid"`
	TwilioAPIKey     string `yaml:"twilio_api_key"`
	TwilioAPISecret  string `yaml:"twilio_api_secret"`

	// ICEServersJSON is handed to browser clients verbatim when Twilio
	// TURN credentials are unavailable.
	ICEServersJSON string `yaml:"ice_servers_json"`

	// Operational defaults
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

const defaultICEServers = `[{"urls": "stun:stun.l.google.com:19302"}]`

// LoadFromEnv builds a Config from the environment.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("LOFTCALL_ADDR", ":8080"),
		DebugMode:           envBoolOr("LOFTCALL_DEBUG", false),
		AdminToken:          strings.TrimSpace(os.Getenv("LOFTCALL_ADMIN_TOKEN")),
		WorkflowDir:         envOr("LOFTCALL_WORKFLOW_DIR", "data/workflows"),
		DefaultWorkflow:     envOr("LOFTCALL_DEFAULT_WORKFLOW", "apartment_viewing"),
		EngineBackend:       EngineBackend(envOr("LOFTCALL_ENGINE_BACKEND", string(EngineOpenAI))),
		EngineConcurrency:   envIntOr("LOFTCALL_ENGINE_CONCURRENCY", 4),
		ChatModel:           envOr("LOFTCALL_CHAT_MODEL", "gpt-4o-mini"),
		GeminiModel:         envOr("LOFTCALL_GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:       strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		STTModel:            envOr("LOFTCALL_STT_MODEL", "whisper-1"),
		TTSModel:            envOr("LOFTCALL_TTS_MODEL", "tts-1"),
		TTSVoice:            envOr("LOFTCALL_TTS_VOICE", "alloy"),
		QdrantAddr:          envOr("LOFTCALL_QDRANT_ADDR", "localhost:6334"),
		QdrantAPIKey:        strings.TrimSpace(os.Getenv("LOFTCALL_QDRANT_API_KEY")),
		QdrantCollection:    envOr("LOFTCALL_QDRANT_COLLECTION", "listings"),
		EmbeddingModel:      envOr("LOFTCALL_EMBEDDING_MODEL", "text-embedding-3-small"),
		SearchTopK:          envIntOr("LOFTCALL_SEARCH_TOP_K", 3),
		CalendarID:          envOr("LOFTCALL_CALENDAR_ID", "primary"),
		Timezone:            envOr("LOFTCALL_TIMEZONE", "America/Chicago"),
		RedisAddr:           strings.TrimSpace(os.Getenv("LOFTCALL_REDIS_ADDR")),
		SessionTTL:          envDurationOr("LOFTCALL_SESSION_TTL", 24*time.Hour),
		DatabaseURL:         strings.TrimSpace(os.Getenv("LOFTCALL_DATABASE_URL")),
		TwilioAccountSID:    strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAPIKey:        strings.TrimSpace(os.Getenv("TWILIO_API_KEY")),
		TwilioAPISecret:     strings.TrimSpace(os.Getenv("TWILIO_API_SECRET")),
		ICEServersJSON:      envOr("LOFTCALL_ICE_SERVERS_JSON", defaultICEServers),
		ReadHeaderTimeout:   envDurationOr("LOFTCALL_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("LOFTCALL_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if path := strings.TrimSpace(os.Getenv("LOFTCALL_CONFIG_FILE")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// overlayFile applies YAML values on top of the env-derived config.
// Zero values in the file leave env values alone.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var over Config
	if err := yaml.Unmarshal(data, &over); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	merge(c, over)
	return nil
}

func merge(dst *Config, over Config) {
	if over.Addr != "" {
		dst.Addr = over.Addr
	}
	if over.DebugMode {
		dst.DebugMode = true
	}
	if over.AdminToken != "" {
		dst.AdminToken = over.AdminToken
	}
	if over.WorkflowDir != "" {
		dst.WorkflowDir = over.WorkflowDir
	}
	if over.DefaultWorkflow != "" {
		dst.DefaultWorkflow = over.DefaultWorkflow
	}
	if over.EngineBackend != "" {
		dst.EngineBackend = over.EngineBackend
	}
	if over.EngineConcurrency != 0 {
		dst.EngineConcurrency = over.EngineConcurrency
	}
	if over.ChatModel != "" {
		dst.ChatModel = over.ChatModel
	}
	if over.GeminiModel != "" {
		dst.GeminiModel = over.GeminiModel
	}
	if over.OpenAIAPIKey != "" {
		dst.OpenAIAPIKey = over.OpenAIAPIKey
	}
	if over.OpenAIBaseURL != "" {
		dst.OpenAIBaseURL = over.OpenAIBaseURL
	}
	if over.GeminiAPIKey != "" {
		dst.GeminiAPIKey = over.GeminiAPIKey
	}
	if over.STTModel != "" {
		dst.STTModel = over.STTModel
	}
	if over.TTSModel != "" {
		dst.TTSModel = over.TTSModel
	}
	if over.TTSVoice != "" {
		dst.TTSVoice = over.TTSVoice
	}
	if over.QdrantAddr != "" {
		dst.QdrantAddr = over.QdrantAddr
	}
	if over.QdrantAPIKey != "" {
		dst.QdrantAPIKey = over.QdrantAPIKey
	}
	if over.QdrantCollection != "" {
		dst.QdrantCollection = over.QdrantCollection
	}
	if over.EmbeddingModel != "" {
		dst.EmbeddingModel = over.EmbeddingModel
	}
	if over.SearchTopK != 0 {
		dst.SearchTopK = over.SearchTopK
	}
	if over.CalendarID != "" {
		dst.CalendarID = over.CalendarID
	}
	if over.Timezone != "" {
		dst.Timezone = over.Timezone
	}
	if over.RedisAddr != "" {
		dst.RedisAddr = over.RedisAddr
	}
	if over.SessionTTL != 0 {
		dst.SessionTTL = over.SessionTTL
	}
	if over.DatabaseURL != "" {
		dst.DatabaseURL = over.DatabaseURL
	}
	if over.TwilioAccountSID != "" {
		dst.TwilioAccountSID = over.TwilioAccountSID
	}
	if over.TwilioAPIKey != "" {
		dst.TwilioAPIKey = over.TwilioAPIKey
	}
	if over.TwilioAPISecret != "" {
		dst.TwilioAPISecret = over.TwilioAPISecret
	}
	if over.ICEServersJSON != "" {
		dst.ICEServersJSON = over.ICEServersJSON
	}
	if over.ReadHeaderTimeout != 0 {
		dst.ReadHeaderTimeout = over.ReadHeaderTimeout
	}
	if over.ShutdownGracePeriod != 0 {
		dst.ShutdownGracePeriod = over.ShutdownGracePeriod
	}
}

func (c *Config) validate() error {
	switch c.EngineBackend {
	case EngineOpenAI, EngineGemini:
	default:
		return fmt.Errorf("LOFTCALL_ENGINE_BACKEND must be one of openai|gemini")
	}
	if c.EngineConcurrency <= 0 {
		return fmt.Errorf("LOFTCALL_ENGINE_CONCURRENCY must be > 0")
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("LOFTCALL_SEARCH_TOP_K must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("LOFTCALL_SESSION_TTL must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("LOFTCALL_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("LOFTCALL_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if c.AdminToken == "" && !c.DebugMode {
		return fmt.Errorf("LOFTCALL_ADMIN_TOKEN must be set when LOFTCALL_DEBUG is off")
	}
	return nil
}

// Warnings reports likely misconfigurations that are not fatal, so the
// server can log them once at startup.
func (c *Config) Warnings() []string {
	var out []string
	if c.OpenAIAPIKey == "" {
		out = append(out, "OPENAI_API_KEY is not set; speech and openai engine calls will fail")
	} else if placeholderKey(c.OpenAIAPIKey) {
		out = append(out, "OPENAI_API_KEY looks like a placeholder value")
	}
	if c.EngineBackend == EngineGemini {
		if c.GeminiAPIKey == "" {
			out = append(out, "GEMINI_API_KEY is not set; gemini engine calls will fail")
		} else if placeholderKey(c.GeminiAPIKey) {
			out = append(out, "GEMINI_API_KEY looks like a placeholder value")
		}
	}
	if c.TwilioAccountSID == "" || c.TwilioAPIKey == "" || c.TwilioAPISecret == "" {
		out = append(out, "twilio credentials incomplete; TURN falls back to STUN only")
	}
	if c.AdminToken == "" && c.DebugMode {
		out = append(out, "admin API is open (debug mode, no LOFTCALL_ADMIN_TOKEN)")
	}
	if c.DatabaseURL == "" {
		out = append(out, "LOFTCALL_DATABASE_URL is not set; bookings are not persisted")
	}
	return out
}

func placeholderKey(key string) bool {
	low := strings.ToLower(key)
	for _, marker := range []string{"your-", "your_", "changeme", "replace", "xxxx", "example"} {
		if strings.Contains(low, marker) {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
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

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
