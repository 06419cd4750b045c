package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	LogFormat   string

	// Groq powers both transcription (whisper) and completion (chat).
	GroqAPIKey   string
	GroqBaseURL  string
	WhisperModel string
	LLMModel     string

	// Deepgram is the primary synthesis provider; ElevenLabs is the fallback.
	DeepgramAPIKey    string
	VoiceEnglish      string
	VoiceUrdu         string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Optional OpenAI-compatible embeddings endpoint. When unset the
	// knowledge store runs on keyword retrieval only.
	EmbeddingsURL   string
	EmbeddingsKey   string
	EmbeddingsModel string

	KnowledgeDir string

	TwilioAccountSID string
	TwilioAuthToken  string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	// Pipeline tunables.
	RetrievalTopK      int
	MinRelevance       float64
	STTMaxRetries      int
	LLMMaxRetries      int
	RetryBackoff       time.Duration
	GatewayTimeout     time.Duration
	SynthesisTimeout   time.Duration
	HistoryWindow      int
	ContextTokenBudget int
	IdleTimeout        time.Duration
	MaxSessions        int

	// Endpointing (websocket ingress).
	SilenceThreshold time.Duration
	MinSpeech        time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:  getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		WhisperModel: getEnv("WHISPER_MODEL", "whisper-large-v3"),
		LLMModel:     getEnv("LLM_MODEL", "llama-3.3-70b-versatile"),

		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		VoiceEnglish:      getEnv("VOICE_ENGLISH", "aura-2-thalia-en"),
		VoiceUrdu:         getEnv("VOICE_URDU", "aura-2-asteria-en"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		EmbeddingsURL:   os.Getenv("EMBEDDINGS_URL"),
		EmbeddingsKey:   os.Getenv("EMBEDDINGS_API_KEY"),
		EmbeddingsModel: getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),

		KnowledgeDir: getEnv("KNOWLEDGE_DIR", "data"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),

		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "call-records"),

		RetrievalTopK:      getInt("RETRIEVAL_TOP_K", 3),
		MinRelevance:       getFloat("MIN_RELEVANCE", 0.1),
		STTMaxRetries:      getInt("STT_MAX_RETRIES", 2),
		LLMMaxRetries:      getInt("LLM_MAX_RETRIES", 1),
		RetryBackoff:       getDuration("RETRY_BACKOFF", 250*time.Millisecond),
		GatewayTimeout:     getDuration("GATEWAY_TIMEOUT", 15*time.Second),
		SynthesisTimeout:   getDuration("SYNTHESIS_TIMEOUT", 12*time.Second),
		HistoryWindow:      getInt("HISTORY_WINDOW", 3),
		ContextTokenBudget: getInt("CONTEXT_TOKEN_BUDGET", 1500),
		IdleTimeout:        getDuration("IDLE_TIMEOUT", 60*time.Second),
		MaxSessions:        getInt("MAX_SESSIONS", 64),

		SilenceThreshold: getDuration("SILENCE_THRESHOLD", 700*time.Millisecond),
		MinSpeech:        getDuration("MIN_SPEECH", 400*time.Millisecond),
	}

	if cfg.GroqAPIKey == "" {
		log.Warn().Msg("GROQ_API_KEY not set - transcription and completion will not work")
	}
	if cfg.DeepgramAPIKey == "" && cfg.ElevenLabsKey == "" {
		log.Warn().Msg("no synthesis provider configured - replies will be text-only")
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float, using default")
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return defaultValue
}
