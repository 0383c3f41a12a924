package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | memory
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		BaseURL string `yaml:"baseURL"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`

	STT struct {
		Provider       string `yaml:"provider"` // openai | diarize
		Language       string `yaml:"language"`
		BaseURL        string `yaml:"baseURL"`
		APIKey         string `yaml:"apiKey"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"stt"`

	Pipeline struct {
		Workers             int    `yaml:"workers"`
		QueueSize           int    `yaml:"queueSize"`
		MaxAttempts         int    `yaml:"maxAttempts"`
		BackoffMillis       int    `yaml:"backoffMillis"`
		RunBudgetSeconds    int    `yaml:"runBudgetSeconds"`
		MinAudioBytes       int    `yaml:"minAudioBytes"`
		MinDurationSeconds  int    `yaml:"minDurationSeconds"`
		DedupWindowMinutes  int    `yaml:"dedupWindowMinutes"`
		MaxDownloadMB       int    `yaml:"maxDownloadMB"`
		DownloadTimeoutSecs int    `yaml:"downloadTimeoutSeconds"`
		Timezone            string `yaml:"timezone"`
	} `yaml:"pipeline"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
		MaxLen   int64  `yaml:"maxLen"`
	} `yaml:"redis"`

	Profile struct {
		BaseURL        string `yaml:"baseURL"`
		APIKey         string `yaml:"apiKey"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
	} `yaml:"profile"`

	Auth struct {
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yaml"
}

// Load reads a YAML file, applies env overrides, then defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "config: parse yaml")
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Database.Password, "DB_PASSWORD")
	set(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	set(&c.Redis.Password, "REDIS_PASSWORD")
	set(&c.Profile.APIKey, "PROFILE_API_KEY")
}

func (c *Config) applyDefaults() {
	def := func(dst *int, v int) {
		if *dst <= 0 {
			*dst = v
		}
	}
	defStr := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}

	def(&c.Server.Port, 8080)

	defStr(&c.Database.Driver, "mysql")
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	defStr(&c.Database.Host, "localhost")
	switch c.Database.Driver {
	case "postgres":
		def(&c.Database.Port, 5432)
		defStr(&c.Database.SSLMode, "disable")
	default:
		def(&c.Database.Port, 3306)
	}

	defStr(&c.Minio.Region, "us-east-1")
	defStr(&c.Minio.BucketName, "call-recordings")

	defStr(&c.OpenAI.Model, "gpt-4o-mini")

	defStr(&c.STT.Provider, "openai")
	c.STT.Provider = strings.ToLower(c.STT.Provider)
	defStr(&c.STT.Language, "ko")
	def(&c.STT.TimeoutSeconds, 120)

	def(&c.Pipeline.Workers, 4)
	def(&c.Pipeline.QueueSize, 256)
	def(&c.Pipeline.MaxAttempts, 3)
	def(&c.Pipeline.BackoffMillis, 2000)
	def(&c.Pipeline.RunBudgetSeconds, 300)
	def(&c.Pipeline.MinAudioBytes, 50000)
	def(&c.Pipeline.MinDurationSeconds, 5)
	def(&c.Pipeline.DedupWindowMinutes, 10)
	def(&c.Pipeline.MaxDownloadMB, 50)
	def(&c.Pipeline.DownloadTimeoutSecs, 60)
	defStr(&c.Pipeline.Timezone, "Asia/Seoul")

	defStr(&c.Redis.Stream, "callintel:events")

	def(&c.Profile.TimeoutSeconds, 10)

	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	def(&c.RateLimit.Burst, 40)

	defStr(&c.Log.Level, "info")
	defStr(&c.Log.Format, "json")
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		return eris.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.STT.Provider {
	case "openai":
	case "diarize":
		if c.STT.BaseURL == "" {
			return eris.New("config: stt.baseURL is required for the diarize provider")
		}
	default:
		return eris.Errorf("config: unknown stt.provider %q", c.STT.Provider)
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		return eris.Wrapf(err, "config: pipeline.timezone %q", c.Pipeline.Timezone)
	}
	return nil
}

// Location is the clinic's local timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) RunBudget() time.Duration       { return seconds(c.Pipeline.RunBudgetSeconds) }
func (c *Config) STTTimeout() time.Duration      { return seconds(c.STT.TimeoutSeconds) }
func (c *Config) ProfileTimeout() time.Duration  { return seconds(c.Profile.TimeoutSeconds) }
func (c *Config) DownloadTimeout() time.Duration { return seconds(c.Pipeline.DownloadTimeoutSecs) }
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Pipeline.DedupWindowMinutes) * time.Minute
}

// MySQLDSN needs clientFoundRows so an update that changes nothing still
// counts as a matched row.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}, "timezone": {"UTC"}}.Encode(),
	}
	return u.String()
}
