// Package config loads fin-news settings from defaults, an optional config
// file and the environment.
package config

import (
	"strings"
	"time"

	"fin-news/internal/logger"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config is the full application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        logger.Config    `mapstructure:"log"`
	GenAI      GenAIConfig      `mapstructure:"genai"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Entities   EntitiesConfig   `mapstructure:"entities"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
	DocsDir string `mapstructure:"docs_dir"`
}

// DatabaseConfig holds connection settings. URL wins over the discrete fields.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Debug    bool   `mapstructure:"debug"`
}

// GenAIConfig selects and configures the generative backend
type GenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	UseGemini   bool          `mapstructure:"use_gemini"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// ExtractionConfig tunes preprocessing and the structured extractor
type ExtractionConfig struct {
	MaxAttempts           int           `mapstructure:"max_attempts"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffMax            time.Duration `mapstructure:"backoff_max"`
	BackoffJitter         float64       `mapstructure:"backoff_jitter"`
	CallTimeout           time.Duration `mapstructure:"call_timeout"`
	MaxInFlight           int           `mapstructure:"max_in_flight"`
	MaxSegmentChars       int           `mapstructure:"max_segment_chars"`
	SegmentOverlap        int           `mapstructure:"segment_overlap"`
	MaxStructuredSegments int           `mapstructure:"max_structured_segments"`
	PromptFile            string        `mapstructure:"prompt_file"`
}

// WorkerConfig controls the coordinator pool and the background loops
type WorkerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	IngestInterval  time.Duration `mapstructure:"ingest_interval"`
}

// IngestConfig controls feed polling
type IngestConfig struct {
	FeedsFile       string        `mapstructure:"feeds_file"`
	PerFeedLimit    int           `mapstructure:"per_feed_limit"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FetchFullText   bool          `mapstructure:"fetch_full_text"`
	MinContentChars int           `mapstructure:"min_content_chars"`
}

// EntitiesConfig points at an optional organization gazetteer
type EntitiesConfig struct {
	GazetteerFile string `mapstructure:"gazetteer_file"`
}

// envBindings maps config keys to the environment variables the service has
// always been deployed with.
var envBindings = map[string]string{
	"server.port":                        "PORT",
	"server.gin_mode":                    "GIN_MODE",
	"server.docs_dir":                    "DOCS_DIR",
	"database.url":                       "DATABASE_URL",
	"database.host":                      "DB_HOST",
	"database.port":                      "DB_PORT",
	"database.user":                      "DB_USER",
	"database.password":                  "DB_PASSWORD",
	"database.name":                      "DB_NAME",
	"database.sslmode":                   "DB_SSLMODE",
	"database.debug":                     "DB_DEBUG",
	"log.level":                          "LOG_LEVEL",
	"log.format":                         "LOG_FORMAT",
	"genai.api_key":                      "GENAI_API_KEY",
	"genai.model":                        "GENAI_MODEL",
	"genai.use_gemini":                   "USE_GEMINI",
	"genai.base_url":                     "OPENAI_BASE_URL",
	"genai.temperature":                  "GENAI_TEMPERATURE",
	"genai.max_tokens":                   "GENAI_MAX_TOKENS",
	"genai.http_timeout":                 "GENAI_HTTP_TIMEOUT",
	"extraction.max_attempts":            "EXTRACTION_MAX_ATTEMPTS",
	"extraction.backoff_base":            "EXTRACTION_BACKOFF_BASE",
	"extraction.backoff_max":             "EXTRACTION_BACKOFF_MAX",
	"extraction.backoff_jitter":          "EXTRACTION_BACKOFF_JITTER",
	"extraction.call_timeout":            "EXTRACTION_CALL_TIMEOUT",
	"extraction.max_in_flight":           "EXTRACTION_MAX_IN_FLIGHT",
	"extraction.max_segment_chars":       "EXTRACTION_MAX_SEGMENT_CHARS",
	"extraction.segment_overlap":         "EXTRACTION_SEGMENT_OVERLAP",
	"extraction.max_structured_segments": "EXTRACTION_MAX_STRUCTURED_SEGMENTS",
	"extraction.prompt_file":             "EXTRACTION_PROMPT_FILE",
	"worker.enabled":                     "WORKER_ENABLED",
	"worker.workers":                     "WORKER_CONCURRENCY",
	"worker.batch_size":                  "PROCESS_BATCH_SIZE",
	"worker.process_interval":            "PROCESS_INTERVAL",
	"worker.ingest_interval":             "INGEST_INTERVAL",
	"ingest.feeds_file":                  "FEEDS_FILE",
	"ingest.per_feed_limit":              "INGEST_PER_FEED_LIMIT",
	"ingest.timeout":                     "INGEST_TIMEOUT",
	"ingest.fetch_full_text":             "ARTICLE_FETCH_FULL_TEXT",
	"ingest.min_content_chars":           "ARTICLE_MIN_CONTENT_CHARS",
	"entities.gazetteer_file":            "GAZETTEER_FILE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "debug")
	v.SetDefault("server.docs_dir", ".")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "fin_news")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("genai.model", "gemini-1.5-flash")
	v.SetDefault("genai.use_gemini", true)
	v.SetDefault("genai.base_url", "https://api.openai.com/v1")
	v.SetDefault("genai.temperature", 0.3)
	v.SetDefault("genai.max_tokens", 500)
	v.SetDefault("genai.http_timeout", 60*time.Second)

	v.SetDefault("extraction.max_attempts", 3)
	v.SetDefault("extraction.backoff_base", 2*time.Second)
	v.SetDefault("extraction.backoff_max", 10*time.Second)
	v.SetDefault("extraction.backoff_jitter", 0.2)
	v.SetDefault("extraction.call_timeout", 30*time.Second)
	v.SetDefault("extraction.max_in_flight", 4)
	v.SetDefault("extraction.max_segment_chars", 3000)
	v.SetDefault("extraction.segment_overlap", 200)
	v.SetDefault("extraction.max_structured_segments", 2)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.process_interval", time.Minute)
	v.SetDefault("worker.ingest_interval", 15*time.Minute)

	v.SetDefault("ingest.per_feed_limit", 10)
	v.SetDefault("ingest.timeout", 30*time.Second)
	v.SetDefault("ingest.fetch_full_text", false)
	v.SetDefault("ingest.min_content_chars", 280)
}

// Load reads configuration. configFile is optional; environment variables
// override both defaults and file values.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "failed to bind %s", env)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Extraction.MaxAttempts < 1 {
		problems = append(problems, "extraction.max_attempts must be at least 1")
	}
	if c.Extraction.MaxInFlight < 1 {
		problems = append(problems, "extraction.max_in_flight must be at least 1")
	}
	if c.Extraction.MaxSegmentChars < 64 {
		problems = append(problems, "extraction.max_segment_chars must be at least 64")
	}
	if c.Extraction.SegmentOverlap < 0 || c.Extraction.SegmentOverlap*2 >= c.Extraction.MaxSegmentChars {
		problems = append(problems, "extraction.segment_overlap must be below half of max_segment_chars")
	}
	if c.Extraction.BackoffJitter < 0 || c.Extraction.BackoffJitter >= 1 {
		problems = append(problems, "extraction.backoff_jitter must be in [0,1)")
	}
	if c.Worker.Workers < 1 {
		problems = append(problems, "worker.workers must be at least 1")
	}
	if c.Worker.BatchSize < 1 {
		problems = append(problems, "worker.batch_size must be at least 1")
	}

	if len(problems) > 0 {
		return eris.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
