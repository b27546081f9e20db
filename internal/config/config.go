package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Queues     QueueConfig
	Storage    StorageConfig
	Downloader DownloaderConfig
	Separator  SeparatorConfig
	Aligner    AlignerConfig
	Lyrics     LyricsConfig
	Retry      RetryConfig
	Worker     WorkerConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
}

type RedisConfig struct {
	Addr                string
	Password            string
	DB                  int
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PoolSize            int
	HealthCheckInterval time.Duration
	ConnectAttempts     int
	ConnectRetryDelay   time.Duration
}

type QueueConfig struct {
	Acquisition  string
	Separation   string
	Alignment    string
	StatusEvents string
	// Retention keeps completed first-hop tasks in the broker.
	Retention time.Duration
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	AccountID       string
	UsePathStyle    bool
}

type DownloaderConfig struct {
	Binary  string
	Timeout time.Duration
}

type SeparatorConfig struct {
	Binary  string
	Model   string
	Timeout time.Duration
}

type AlignerConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

type LyricsConfig struct {
	UserAgent   string
	Timeout     time.Duration
	AZLyricsURL string
	GeniusURL   string
}

type RetryConfig struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type WorkerConfig struct {
	ScratchDir      string
	ShutdownTimeout time.Duration

	// TaskTimeout bounds one stage delivery; asynq cancels the handler after it.
	TaskTimeout time.Duration
}

type RateLimitConfig struct {
	SubmissionsPerMin int
}

// Load reads configuration from the environment, an optional config file
// and defaults. An explicit path must exist; otherwise config.yaml is looked
// up in . and ./config.
func Load(path string) (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")
	readSecret("R2_ACCOUNT_ID")

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	for key, env := range map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"server.log_format":           "LOG_FORMAT",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"redis.dial_timeout":          "REDIS_DIAL_TIMEOUT",
		"redis.read_timeout":          "REDIS_READ_TIMEOUT",
		"redis.write_timeout":         "REDIS_WRITE_TIMEOUT",
		"redis.pool_size":             "REDIS_POOL_SIZE",
		"redis.health_check_interval": "REDIS_HEALTH_CHECK_INTERVAL",
		"redis.connect_attempts":      "REDIS_CONNECT_ATTEMPTS",
		"redis.connect_retry_delay":   "REDIS_CONNECT_RETRY_DELAY",
		"queues.acquisition":          "ACQUISITION_QUEUE",
		"queues.separation":           "SEPARATION_QUEUE",
		"queues.alignment":            "ALIGNMENT_QUEUE",
		"queues.status_events":        "STATUS_EVENT_QUEUE",
		"queues.retention":            "QUEUE_RETENTION",
		"storage.endpoint":            "S3_ENDPOINT",
		"storage.region":              "S3_REGION",
		"storage.bucket":              "S3_BUCKET",
		"storage.access_key_id":       "S3_ACCESS_KEY_ID",
		"storage.secret_access_key":   "S3_SECRET_ACCESS_KEY",
		"storage.account_id":          "R2_ACCOUNT_ID",
		"storage.use_path_style":      "S3_USE_PATH_STYLE",
		"downloader.binary":           "YTDLP_BINARY",
		"downloader.timeout":          "YTDLP_TIMEOUT",
		"separator.binary":            "SPLEETER_BINARY",
		"separator.model":             "SPLEETER_MODEL",
		"separator.timeout":           "SPLEETER_TIMEOUT",
		"aligner.service_url":         "ALIGNER_SERVICE_URL",
		"aligner.timeout":             "ALIGNER_TIMEOUT",
		"lyrics.user_agent":           "LYRICS_USER_AGENT",
		"lyrics.timeout":              "LYRICS_TIMEOUT",
		"lyrics.azlyrics_url":         "AZLYRICS_URL",
		"lyrics.genius_url":           "GENIUS_URL",
		"retry.attempts":              "RETRY_ATTEMPTS",
		"retry.initial_interval":      "RETRY_INITIAL_INTERVAL",
		"retry.max_interval":          "RETRY_MAX_INTERVAL",
		"worker.scratch_dir":          "WORKER_SCRATCH_DIR",
		"worker.shutdown_timeout":     "WORKER_SHUTDOWN_TIMEOUT",
		"worker.task_timeout":         "WORKER_TASK_TIMEOUT",

		"ratelimit.submissions_per_min": "RATELIMIT_SUBMISSIONS_PER_MIN",
	} {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	// Try to read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	// Broker heartbeat
	v.SetDefault("redis.health_check_interval", 15*time.Second)
	v.SetDefault("redis.connect_attempts", 5)
	v.SetDefault("redis.connect_retry_delay", 2*time.Second)

	v.SetDefault("queues.acquisition", "download-jobs")
	v.SetDefault("queues.separation", "split-jobs")
	v.SetDefault("queues.alignment", "lyrics-jobs")
	v.SetDefault("queues.status_events", "event-notifications")
	v.SetDefault("queues.retention", 24*time.Hour)

	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.bucket", "songs")
	v.SetDefault("storage.use_path_style", false)

	v.SetDefault("downloader.binary", "yt-dlp")
	v.SetDefault("downloader.timeout", 10*time.Minute)

	v.SetDefault("separator.binary", "spleeter")
	v.SetDefault("separator.model", "spleeter:2stems")
	v.SetDefault("separator.timeout", 30*time.Minute)

	v.SetDefault("aligner.service_url", "http://localhost:8084")
	v.SetDefault("aligner.timeout", 20*time.Minute)

	v.SetDefault("lyrics.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("lyrics.timeout", 15*time.Second)
	v.SetDefault("lyrics.azlyrics_url", "https://www.azlyrics.com")
	v.SetDefault("lyrics.genius_url", "https://genius.com")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.initial_interval", time.Second)
	v.SetDefault("retry.max_interval", 10*time.Second)

	v.SetDefault("worker.scratch_dir", os.TempDir())
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
	v.SetDefault("worker.task_timeout", 6*time.Hour)

	v.SetDefault("ratelimit.submissions_per_min", 10)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
		},
		Redis: RedisConfig{
			Addr:                v.GetString("redis.addr"),
			Password:            v.GetString("redis.password"),
			DB:                  v.GetInt("redis.db"),
			DialTimeout:         v.GetDuration("redis.dial_timeout"),
			ReadTimeout:         v.GetDuration("redis.read_timeout"),
			WriteTimeout:        v.GetDuration("redis.write_timeout"),
			PoolSize:            v.GetInt("redis.pool_size"),
			HealthCheckInterval: v.GetDuration("redis.health_check_interval"),
			ConnectAttempts:     v.GetInt("redis.connect_attempts"),
			ConnectRetryDelay:   v.GetDuration("redis.connect_retry_delay"),
		},
		Queues: QueueConfig{
			Acquisition:  v.GetString("queues.acquisition"),
			Separation:   v.GetString("queues.separation"),
			Alignment:    v.GetString("queues.alignment"),
			StatusEvents: v.GetString("queues.status_events"),
			Retention:    v.GetDuration("queues.retention"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			AccountID:       v.GetString("storage.account_id"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Downloader: DownloaderConfig{
			Binary:  v.GetString("downloader.binary"),
			Timeout: v.GetDuration("downloader.timeout"),
		},
		Separator: SeparatorConfig{
			Binary:  v.GetString("separator.binary"),
			Model:   v.GetString("separator.model"),
			Timeout: v.GetDuration("separator.timeout"),
		},
		Aligner: AlignerConfig{
			ServiceURL: v.GetString("aligner.service_url"),
			Timeout:    v.GetDuration("aligner.timeout"),
		},
		Lyrics: LyricsConfig{
			UserAgent:   v.GetString("lyrics.user_agent"),
			Timeout:     v.GetDuration("lyrics.timeout"),
			AZLyricsURL: v.GetString("lyrics.azlyrics_url"),
			GeniusURL:   v.GetString("lyrics.genius_url"),
		},
		Retry: RetryConfig{
			Attempts:        v.GetInt("retry.attempts"),
			InitialInterval: v.GetDuration("retry.initial_interval"),
			MaxInterval:     v.GetDuration("retry.max_interval"),
		},
		Worker: WorkerConfig{
			ScratchDir:      v.GetString("worker.scratch_dir"),
			ShutdownTimeout: v.GetDuration("worker.shutdown_timeout"),
			TaskTimeout:     v.GetDuration("worker.task_timeout"),
		},
		RateLimit: RateLimitConfig{
			SubmissionsPerMin: v.GetInt("ratelimit.submissions_per_min"),
		},
	}
}

// Validate rejects bounds that would disable the pipeline's own safety nets.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Server.LogLevel)
	}
	switch c.Server.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Server.LogFormat)
	}

	positive := map[string]time.Duration{
		"redis.dial_timeout":          c.Redis.DialTimeout,
		"redis.read_timeout":          c.Redis.ReadTimeout,
		"redis.write_timeout":         c.Redis.WriteTimeout,
		"redis.health_check_interval": c.Redis.HealthCheckInterval,
		"redis.connect_retry_delay":   c.Redis.ConnectRetryDelay,
		"downloader.timeout":          c.Downloader.Timeout,
		"separator.timeout":           c.Separator.Timeout,
		"aligner.timeout":             c.Aligner.Timeout,
		"lyrics.timeout":              c.Lyrics.Timeout,
		"retry.initial_interval":      c.Retry.InitialInterval,
		"retry.max_interval":          c.Retry.MaxInterval,
		"worker.shutdown_timeout":     c.Worker.ShutdownTimeout,
		"worker.task_timeout":         c.Worker.TaskTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Redis.PoolSize <= 0 || c.Redis.ConnectAttempts <= 0 {
		return errors.New("redis.pool_size and redis.connect_attempts must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive, got %d", c.Retry.Attempts)
	}
	if c.RateLimit.SubmissionsPerMin <= 0 {
		return fmt.Errorf("ratelimit.submissions_per_min must be positive, got %d", c.RateLimit.SubmissionsPerMin)
	}

	queues := []string{c.Queues.Acquisition, c.Queues.Separation, c.Queues.Alignment, c.Queues.StatusEvents}
	seen := make(map[string]bool, len(queues))
	for _, q := range queues {
		if q == "" {
			return errors.New("queue names must not be empty")
		}
		if seen[q] {
			return fmt.Errorf("queue %q is configured twice", q)
		}
		seen[q] = true
	}
	return nil
}
