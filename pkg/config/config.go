package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the full runtime configuration of the guard service. It is
// read once at startup and never mutated afterwards.
type Config struct {
	App        AppConfig
	HTTP       HTTPConfig
	Guard      GuardConfig
	Classifier ClassifierConfig
	Notify     NotifyConfig
	Report     ReportConfig
	Storage    StorageConfig
	Cooldown   CooldownConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Tracing    TracingConfig

	sources []Source
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"blipguard"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"APP_LOG_ENCODING" envDefault:"json"`
	SecretKey   string `env:"SECRET_KEY"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type GuardConfig struct {
	Streams       []string      `env:"GUARD_STREAMS" envSeparator:"," envDefault:"http://192.168.178.89:8090"`
	SourcesFile   string        `env:"GUARD_SOURCES_FILE"`
	PathSuffix    string        `env:"GUARD_STREAM_PATH" envDefault:"/cam.mjpg"`
	Boundary      string        `env:"GUARD_BOUNDARY" envDefault:"--BLIPBOUNDARY"`
	ChunkSize     int           `env:"GUARD_CHUNK_SIZE" envDefault:"1024"`
	MaxFrameBytes int           `env:"GUARD_MAX_FRAME_BYTES" envDefault:"8388608"`
	GrabTimeout   time.Duration `env:"GUARD_GRAB_TIMEOUT" envDefault:"20s"`
	PollInterval  time.Duration `env:"GUARD_POLL_INTERVAL" envDefault:"8s"`
	Cooldown      time.Duration `env:"GUARD_COOLDOWN" envDefault:"6m"`
	TurnTimeout   time.Duration `env:"GUARD_TURN_TIMEOUT" envDefault:"2m"`
}

// ClassifierConfig selects the vision backend. BaseURL is used by ollama,
// OpenAIURL by openai (empty means the public API).
type ClassifierConfig struct {
	Provider    string        `env:"CLASSIFIER_PROVIDER" envDefault:"ollama"`
	BaseURL     string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	Model       string        `env:"OLLAMA_MODEL" envDefault:"qwen3-vl:4b"`
	OpenAIURL   string        `env:"OPENAI_BASE_URL"`
	APIKey      string        `env:"CLASSIFIER_API_KEY"`
	Temperature float64       `env:"CLASSIFIER_TEMPERATURE" envDefault:"0"`
	MaxAttempts uint          `env:"CLASSIFIER_MAX_ATTEMPTS" envDefault:"5"`
	MaxElapsed  time.Duration `env:"CLASSIFIER_MAX_ELAPSED" envDefault:"90s"`
	Timeout     time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"120s"`
}

type NotifyConfig struct {
	BaseURL string `env:"NTFY_URL" envDefault:"https://ntfy.sh"`
	Channel string `env:"NTFY_CHANNEL" envDefault:"guard"`
	Token   string `env:"NTFY_TOKEN"`
}

type ReportConfig struct {
	URL string `env:"REPORT_URL" envDefault:"http://localhost:8080/api/v1/reports"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"fs"`
	Dir       string `env:"STORAGE_DIR" envDefault:"flagged"`
	Prefix    string `env:"STORAGE_PREFIX" envDefault:"flagged"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"http://localhost:9000"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET" envDefault:"guard-frames"`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type CooldownConfig struct {
	Provider string `env:"COOLDOWN_STORE" envDefault:"memory"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"guard:cooldown:"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	AlarmTopic       string        `env:"KAFKA_ALARM_TOPIC" envDefault:"guard.alarms"`
	ReportTopic      string        `env:"KAFKA_REPORT_TOPIC" envDefault:"guard.reports"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"1"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"50ms"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=blipguard"`
}

// Source is one monitored feed.
type Source struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// Load reads an optional .env file, parses environment variables into Config,
// resolves the source list and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	sources, err := resolveSources(cfg.Guard)
	if err != nil {
		return nil, err
	}
	cfg.sources = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sources returns the monitored feeds resolved from Guard.Streams or Guard.SourcesFile.
func (c *Config) Sources() []Source {
	return c.sources
}

// Validate checks invariants the service cannot start without.
func (c *Config) Validate() error {
	if c.App.SecretKey == "" {
		return errors.New("no SECRET_KEY set, please set it in your environment or .env file")
	}
	if len(c.sources) == 0 {
		return errors.New("no stream sources configured")
	}
	seen := make(map[string]struct{}, len(c.sources))
	for _, src := range c.sources {
		if src.URL == "" {
			return fmt.Errorf("source %q has no url", src.ID)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}
	}
	if c.Guard.PollInterval <= 0 || c.Guard.Cooldown <= 0 {
		return errors.New("poll interval and cooldown must be positive")
	}
	return nil
}

func resolveSources(cfg GuardConfig) ([]Source, error) {
	if cfg.SourcesFile != "" {
		return LoadSourcesFile(cfg.SourcesFile)
	}

	sources := make([]Source, 0, len(cfg.Streams))
	for _, stream := range cfg.Streams {
		stream = strings.TrimSpace(stream)
		if stream == "" {
			continue
		}
		sources = append(sources, Source{ID: stream, URL: stream})
	}
	return sources, nil
}

// LoadSourcesFile reads a YAML document of the form:
//
//	sources:
//	  - id: porch
//	    url: http://192.168.178.89:8090
func LoadSourcesFile(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var doc sourcesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	for i := range doc.Sources {
		doc.Sources[i].URL = strings.TrimSpace(doc.Sources[i].URL)
		if doc.Sources[i].ID == "" {
			doc.Sources[i].ID = doc.Sources[i].URL
		}
	}
	return doc.Sources, nil
}
