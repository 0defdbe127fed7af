package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values. Values come from defaults, then
// the YAML file named by KBINGEST_CONFIG, then environment variables.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	SurrealDB  SurrealDBConfig  `yaml:"surrealdb"`
	Neo4j      Neo4jConfig      `yaml:"neo4j"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Annotation AnnotationConfig `yaml:"annotation"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// StoreConfig selects storage backends.
type StoreConfig struct {
	// Backend is "surreal" or "memory".
	Backend string `yaml:"backend"`
	// Graph is "surreal" or "neo4j". Ignored for the memory backend.
	Graph string `yaml:"graph"`
}

// SurrealDBConfig is the SurrealDB connection.
type SurrealDBConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	AuthLevel string `yaml:"auth_level"`
}

// Neo4jConfig is the optional Neo4j graph store.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	Dimension    int           `yaml:"dimension"`
	BatchSize    int           `yaml:"batch_size"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheDir     string        `yaml:"cache_dir"`
	ChunkLimit   int           `yaml:"chunk_limit"`
	OllamaHost   string        `yaml:"ollama_host"`
	OpenAIAPIKey string        `yaml:"openai_api_key"`
	OpenAIURL    string        `yaml:"openai_url"`
	VoyageAPIKey string        `yaml:"voyage_api_key"`
}

// AnnotationConfig configures the semantic annotator.
type AnnotationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	Fallbacks       []string      `yaml:"fallbacks"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxTokens       int           `yaml:"max_tokens"`
	Personas        []string      `yaml:"personas"`
	MaxTopics       int           `yaml:"max_topics"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	AnthropicURL    string        `yaml:"anthropic_url"`
	AWSRegion       string        `yaml:"aws_region"`
}

// DispatchConfig configures claiming and polling.
type DispatchConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollBatch          int           `yaml:"poll_batch"`
	BacklogThreshold   int           `yaml:"backlog_threshold"`
	SegmentConcurrency int           `yaml:"segment_concurrency"`
}

// AlertsConfig configures alert sinks besides the log.
type AlertsConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisChannel  string `yaml:"redis_channel"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Port int  `yaml:"port"`
	Poll bool `yaml:"poll"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: "surreal", Graph: "surreal"},
		SurrealDB: SurrealDBConfig{
			URL:       "ws://localhost:8000/rpc",
			Namespace: "knowledge",
			Database:  "ingest",
			User:      "root",
			Pass:      "root",
			AuthLevel: "root",
		},
		Neo4j: Neo4jConfig{User: "neo4j"},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "all-minilm:l6-v2",
			Dimension:  384,
			BatchSize:  16,
			Timeout:    30 * time.Second,
			ChunkLimit: 1000,
			OllamaHost: "http://localhost:11434",
		},
		Annotation: AnnotationConfig{
			Enabled:   true,
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			Timeout:   60 * time.Second,
			MaxTokens: 1024,
			MaxTopics: 5,
			AWSRegion: "us-east-1",
		},
		Dispatch: DispatchConfig{
			BatchSize:          10,
			PollInterval:       30 * time.Second,
			PollBatch:          1,
			BacklogThreshold:   25,
			SegmentConcurrency: 1,
		},
		Alerts: AlertsConfig{RedisChannel: "kbingest:alerts"},
		Server: ServerConfig{Port: 8484},
		Log:    LogConfig{File: "/tmp/kbingest.log", Level: "INFO"},
	}
}

// Load reads the optional YAML file and environment variables over the defaults.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("KBINGEST_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(dst *string, key string) {
		*dst = getEnv(key, *dst)
	}
	num := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	list := func(dst *[]string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str(&cfg.Store.Backend, "KBINGEST_STORE")
	str(&cfg.Store.Graph, "KBINGEST_GRAPH_STORE")

	// SurrealDB keeps the unprefixed names shared with other tools.
	str(&cfg.SurrealDB.URL, "SURREALDB_URL")
	str(&cfg.SurrealDB.Namespace, "SURREALDB_NAMESPACE")
	str(&cfg.SurrealDB.Database, "SURREALDB_DATABASE")
	str(&cfg.SurrealDB.User, "SURREALDB_USER")
	str(&cfg.SurrealDB.Pass, "SURREALDB_PASS")
	str(&cfg.SurrealDB.AuthLevel, "SURREALDB_AUTH_LEVEL")

	str(&cfg.Neo4j.URI, "NEO4J_URI")
	str(&cfg.Neo4j.User, "NEO4J_USER")
	str(&cfg.Neo4j.Password, "NEO4J_PASSWORD")
	str(&cfg.Neo4j.Database, "NEO4J_DATABASE")

	str(&cfg.Embedding.Provider, "KBINGEST_EMBEDDING_PROVIDER")
	str(&cfg.Embedding.Model, "KBINGEST_EMBEDDING_MODEL")
	num(&cfg.Embedding.Dimension, "KBINGEST_EMBEDDING_DIMENSION")
	num(&cfg.Embedding.BatchSize, "KBINGEST_EMBEDDING_BATCH_SIZE")
	dur(&cfg.Embedding.Timeout, "KBINGEST_EMBED_TIMEOUT")
	str(&cfg.Embedding.CacheDir, "KBINGEST_EMBEDDING_CACHE_DIR")
	num(&cfg.Embedding.ChunkLimit, "KBINGEST_CHUNK_LIMIT")
	str(&cfg.Embedding.OllamaHost, "OLLAMA_HOST")
	str(&cfg.Embedding.OpenAIAPIKey, "OPENAI_API_KEY")
	str(&cfg.Embedding.OpenAIURL, "OPENAI_BASE_URL")
	str(&cfg.Embedding.VoyageAPIKey, "VOYAGE_API_KEY")

	flag(&cfg.Annotation.Enabled, "KBINGEST_ANNOTATE")
	str(&cfg.Annotation.Provider, "KBINGEST_ANNOTATION_PROVIDER")
	str(&cfg.Annotation.Model, "KBINGEST_ANNOTATION_MODEL")
	list(&cfg.Annotation.Fallbacks, "KBINGEST_ANNOTATION_FALLBACKS")
	dur(&cfg.Annotation.Timeout, "KBINGEST_ANNOTATE_TIMEOUT")
	num(&cfg.Annotation.MaxTokens, "KBINGEST_ANNOTATION_MAX_TOKENS")
	list(&cfg.Annotation.Personas, "KBINGEST_PERSONAS")
	num(&cfg.Annotation.MaxTopics, "KBINGEST_MAX_TOPICS")
	str(&cfg.Annotation.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	str(&cfg.Annotation.AnthropicURL, "ANTHROPIC_BASE_URL")
	str(&cfg.Annotation.AWSRegion, "AWS_REGION")

	num(&cfg.Dispatch.BatchSize, "KBINGEST_BATCH_SIZE")
	dur(&cfg.Dispatch.PollInterval, "KBINGEST_POLL_INTERVAL")
	num(&cfg.Dispatch.PollBatch, "KBINGEST_POLL_BATCH")
	num(&cfg.Dispatch.BacklogThreshold, "KBINGEST_BACKLOG_THRESHOLD")
	num(&cfg.Dispatch.SegmentConcurrency, "KBINGEST_SEGMENT_CONCURRENCY")

	str(&cfg.Alerts.WebhookURL, "KBINGEST_ALERT_WEBHOOK")
	str(&cfg.Alerts.RedisAddr, "KBINGEST_REDIS_ADDR")
	str(&cfg.Alerts.RedisPassword, "KBINGEST_REDIS_PASSWORD")
	str(&cfg.Alerts.RedisChannel, "KBINGEST_REDIS_CHANNEL")

	num(&cfg.Server.Port, "KBINGEST_PORT")
	flag(&cfg.Server.Poll, "KBINGEST_POLL")

	str(&cfg.Log.File, "KBINGEST_LOG_FILE")
	str(&cfg.Log.Level, "KBINGEST_LOG_LEVEL")

	return errors.Join(errs...)
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "surreal", "memory":
	default:
		errs = append(errs, fmt.Errorf("store backend %q: want surreal or memory", c.Store.Backend))
	}
	switch c.Store.Graph {
	case "surreal":
	case "neo4j":
		if c.Neo4j.URI == "" {
			errs = append(errs, errors.New("graph store neo4j requires NEO4J_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("graph store %q: want surreal or neo4j", c.Store.Graph))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding batch size must be positive, got %d", c.Embedding.BatchSize))
	}
	if c.Embedding.ChunkLimit <= 0 {
		errs = append(errs, fmt.Errorf("chunk limit must be positive, got %d", c.Embedding.ChunkLimit))
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.Dispatch.BatchSize))
	}
	if c.Dispatch.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.Dispatch.PollInterval))
	}
	if c.Dispatch.BacklogThreshold < 0 {
		errs = append(errs, fmt.Errorf("backlog threshold must not be negative, got %d", c.Dispatch.BacklogThreshold))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() slog.Level {
	return parseLogLevel(c.Log.Level)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
