package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	DeepgramAPIKey string
	OpenAIAPIKey   string
	OpenAIModelID  string
	TTSModelID     string
	UpstreamURL    string
	Greeting       string

	// Audio format for client PCM. 16-bit mono little-endian.
	SampleRate int

	// Turn-taking thresholds.
	SilenceWindow          time.Duration
	MinSpeechChunks        int
	MinSpeechDuration      time.Duration
	VADConfidence          float64
	VADEnergyThreshold     float64
	VADTimeout             time.Duration
	MaxConsecutiveTimeouts int

	// Collaborator deadlines.
	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	// Upstream relay pacing.
	PacingInterval time.Duration
	MaxBatchSize   int
	RetryBackoff   time.Duration
	MaxRetries     int

	MaxHistoryTurns int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - transcription and TTS will not work")
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - reply generation will not work")
	}
	openaiModel := os.Getenv("OPENAI_MODEL_ID")
	if openaiModel == "" {
		openaiModel = "gpt-4o-mini"
	}

	ttsModel := os.Getenv("TTS_MODEL_ID")
	if ttsModel == "" {
		ttsModel = "aura-2-asteria-en"
	}

	greeting := os.Getenv("GREETING_TEXT")
	if greeting == "" {
		greeting = "Hi! I'm listening - go ahead whenever you're ready."
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:    addr,
		DeepgramAPIKey: deepgramKey,
		OpenAIAPIKey:   openaiKey,
		OpenAIModelID:  openaiModel,
		TTSModelID:     ttsModel,
		UpstreamURL:    os.Getenv("UPSTREAM_URL"),
		Greeting:       greeting,

		SampleRate: envInt("SAMPLE_RATE", 24000),

		SilenceWindow:          envDuration("SILENCE_WINDOW", 1200*time.Millisecond),
		MinSpeechChunks:        envInt("MIN_SPEECH_CHUNKS", 2),
		MinSpeechDuration:      envDuration("MIN_SPEECH_DURATION", 500*time.Millisecond),
		VADConfidence:          envFloat("VAD_CONFIDENCE", 0.3),
		VADEnergyThreshold:     envFloat("VAD_ENERGY_THRESHOLD", 250.0),
		VADTimeout:             envDuration("VAD_TIMEOUT", 2*time.Second),
		MaxConsecutiveTimeouts: envInt("VAD_MAX_TIMEOUTS", 5),

		STTTimeout: envDuration("STT_TIMEOUT", 8*time.Second),
		LLMTimeout: envDuration("LLM_TIMEOUT", 20*time.Second),
		TTSTimeout: envDuration("TTS_TIMEOUT", 12*time.Second),

		PacingInterval: envDuration("RELAY_PACING_INTERVAL", time.Second),
		MaxBatchSize:   envInt("RELAY_MAX_BATCH", 5),
		RetryBackoff:   envDuration("RELAY_RETRY_BACKOFF", 3*time.Second),
		MaxRetries:     envInt("RELAY_MAX_RETRIES", 3),

		MaxHistoryTurns: envInt("MAX_HISTORY_TURNS", 20),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
