package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int      `yaml:"port"`
	DataPath    string   `yaml:"data_path"`
	DBPath      string   `yaml:"db_path"`
	UploadPath  string   `yaml:"upload_path"`
	CORSOrigins []string `yaml:"cors_origins"`

	// UploadLimitMB caps multipart uploads on the transcription route.
	UploadLimitMB int64 `yaml:"upload_limit_mb"`
	// TranscribeRateLimit is the number of transcription runs allowed per IP per minute.
	TranscribeRateLimit int `yaml:"transcribe_rate_limit"`
	// RetentionDays removes stored runs older than this many days. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
	// RetentionSchedule is the cron spec of the retention sweep.
	RetentionSchedule string `yaml:"retention_schedule"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Pipeline   PipelineConfig          `yaml:"pipeline"`
	OpenAI     OpenAIConfig            `yaml:"openai"`
	WhisperCpp WhisperCppConfig        `yaml:"whisper_cpp"`
	Gemini     GeminiConfig            `yaml:"gemini"`
	Diarize    DiarizeConfig           `yaml:"diarize"`
	Fillers    map[string][]FillerRule `yaml:"fillers"`
}

// PipelineConfig holds the per-run defaults a request may override.
type PipelineConfig struct {
	Language          string  `yaml:"language" json:"language"`
	ChunkSeconds      int     `yaml:"chunk_seconds" json:"chunk_seconds"`
	Diarize           bool    `yaml:"diarize" json:"diarize"`
	IncludeTimestamps bool    `yaml:"include_timestamps" json:"include_timestamps"`
	RemoveFillers     bool    `yaml:"remove_fillers" json:"remove_fillers"`
	Engine            string  `yaml:"engine" json:"engine"`
	GapThreshold      float64 `yaml:"gap_threshold" json:"gap_threshold"`
	MaxChars          int     `yaml:"max_chars" json:"max_chars"`
	BatchThresholdSec int     `yaml:"batch_threshold_sec" json:"batch_threshold_sec"`
	BatchSizeSec      int     `yaml:"batch_size_sec" json:"batch_size_sec"`
	PostProvider      string  `yaml:"post_provider" json:"post_provider"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	WhisperModel string `yaml:"whisper_model"`
	ChatModel    string `yaml:"chat_model"`
}

type WhisperCppConfig struct {
	URL string `yaml:"url"`
}

type GeminiConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	PostModel string `yaml:"post_model"`
}

type DiarizeConfig struct {
	HFToken string `yaml:"hf_token"`
	Python  string `yaml:"python"`
	Model   string `yaml:"model"`
}

// FillerRule is one ordered substitution of a language's filler table.
type FillerRule struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// Default returns a Config populated with built-in defaults only.
func Default() *Config {
	dataPath := "/data"
	return &Config{
		Port:                8080,
		DataPath:            dataPath,
		DBPath:              dataPath + "/scribe.db",
		UploadPath:          dataPath + "/uploads",
		CORSOrigins:         []string{"*"},
		UploadLimitMB:       1024,
		TranscribeRateLimit: 10,
		RetentionDays:       30,
		RetentionSchedule:   "@hourly",
		LogLevel:            "info",
		LogFormat:           "console",
		Pipeline: PipelineConfig{
			Language:          "ko",
			ChunkSeconds:      600,
			IncludeTimestamps: true,
			RemoveFillers:     true,
			Engine:            "whisper",
			GapThreshold:      1.2,
			MaxChars:          160,
			BatchThresholdSec: 900,
			BatchSizeSec:      600,
			PostProvider:      "openai",
		},
		OpenAI: OpenAIConfig{
			WhisperModel: "whisper-1",
			ChatModel:    "gpt-4o-mini",
		},
		Gemini: GeminiConfig{
			BaseURL:   "https://generativelanguage.googleapis.com",
			Model:     "gemini-2.0-flash",
			PostModel: "gemini-2.0-flash",
		},
		Diarize: DiarizeConfig{
			Python: "python3",
			Model:  "pyannote/speaker-diarization",
		},
	}
}

// Load builds the configuration from .env, an optional YAML file named by
// SCRIBE_CONFIG and the process environment, in that order of precedence
// (environment wins).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("[config] failed to load .env")
	}

	cfg := Default()
	if path := os.Getenv("SCRIBE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file on top of the defaults without consulting the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)

	// DB and upload paths follow DATA_PATH unless set explicitly.
	if v := os.Getenv("DATA_PATH"); v != "" {
		c.DataPath = v
		c.DBPath = filepath.Join(v, "scribe.db")
		c.UploadPath = filepath.Join(v, "uploads")
	}
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.UploadPath = getEnv("UPLOAD_PATH", c.UploadPath)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		c.CORSOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	c.UploadLimitMB = int64(getEnvInt("UPLOAD_LIMIT_MB", int(c.UploadLimitMB)))
	c.TranscribeRateLimit = getEnvInt("TRANSCRIBE_RATE_LIMIT", c.TranscribeRateLimit)
	c.RetentionDays = getEnvInt("RETENTION_DAYS", c.RetentionDays)
	c.RetentionSchedule = getEnv("RETENTION_SCHEDULE", c.RetentionSchedule)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.Pipeline.Language = getEnv("SCRIBE_LANGUAGE", c.Pipeline.Language)
	c.Pipeline.ChunkSeconds = getEnvInt("SCRIBE_CHUNK_SECONDS", c.Pipeline.ChunkSeconds)
	c.Pipeline.Engine = getEnv("SCRIBE_ENGINE", c.Pipeline.Engine)
	c.Pipeline.Diarize = getEnvBool("SCRIBE_DIARIZE", c.Pipeline.Diarize)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.WhisperModel = getEnv("WHISPER_MODEL", c.OpenAI.WhisperModel)
	c.OpenAI.ChatModel = getEnv("OPENAI_CHAT_MODEL", c.OpenAI.ChatModel)
	c.WhisperCpp.URL = getEnv("WHISPER_CPP_URL", c.WhisperCpp.URL)
	c.Gemini.APIKey = getEnv("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.BaseURL = getEnv("GEMINI_BASE_URL", c.Gemini.BaseURL)
	c.Gemini.Model = getEnv("GEMINI_MODEL", c.Gemini.Model)
	c.Gemini.PostModel = getEnv("GEMINI_POST_MODEL", c.Gemini.PostModel)

	// HF_TOKEN takes precedence over the legacy HUGGINGFACE_TOKEN.
	c.Diarize.HFToken = getEnv("HF_TOKEN", getEnv("HUGGINGFACE_TOKEN", c.Diarize.HFToken))
	c.Diarize.Python = getEnv("PYTHON_BIN", c.Diarize.Python)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be >= 0")
	}
	if c.Pipeline.ChunkSeconds <= 0 {
		return fmt.Errorf("pipeline.chunk_seconds must be > 0")
	}
	if c.Pipeline.MaxChars <= 0 {
		return fmt.Errorf("pipeline.max_chars must be > 0")
	}
	if c.Pipeline.GapThreshold < 0 {
		return fmt.Errorf("pipeline.gap_threshold must be >= 0")
	}
	if c.Pipeline.BatchSizeSec <= 0 {
		return fmt.Errorf("pipeline.batch_size_sec must be > 0")
	}

	switch c.Pipeline.Engine {
	case "whisper", "whisper.cpp", "gemini":
	default:
		return fmt.Errorf("pipeline.engine must be whisper, whisper.cpp, or gemini, got %q", c.Pipeline.Engine)
	}

	switch c.Pipeline.PostProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("pipeline.post_provider must be openai or gemini, got %q", c.Pipeline.PostProvider)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}

	for lang, rules := range c.Fillers {
		for i, r := range rules {
			if r.Pattern == "" {
				return fmt.Errorf("fillers.%s[%d].pattern must not be empty", lang, i)
			}
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("[config] ignoring non-integer value")
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
