package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the docsight daemon.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	LLM           LLMConfig           `yaml:"llm" json:"llm"`
	Rendering     RenderingConfig     `yaml:"rendering" json:"rendering"`
	EvidenceCache EvidenceCacheConfig `yaml:"evidence_cache" json:"evidence_cache"`
	Queue         QueueConfig         `yaml:"queue" json:"queue"`
	Upload        UploadConfig        `yaml:"upload" json:"upload"`
	Prompts       PromptsConfig       `yaml:"prompts" json:"prompts"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Debug    bool   `yaml:"debug" json:"debug"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	// CORSOrigins is a comma-separated allow-list; "*" allows any origin.
	CORSOrigins string `yaml:"cors_origins" json:"cors_origins"`
}

// Origins splits the comma-separated CORS allow-list.
func (s ServerConfig) Origins() []string {
	if strings.TrimSpace(s.CORSOrigins) == "" {
		return nil
	}
	parts := strings.Split(s.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type AuthConfig struct {
	JWTSecretKey             string `yaml:"jwt_secret_key" json:"jwt_secret_key"`
	JWTAlgorithm             string `yaml:"jwt_algorithm" json:"jwt_algorithm"`
	AccessTokenExpireMinutes int    `yaml:"access_token_expire_minutes" json:"access_token_expire_minutes"`
}

// TokenExpiry returns the configured JWT lifetime.
func (a AuthConfig) TokenExpiry() time.Duration {
	return time.Duration(a.AccessTokenExpireMinutes) * time.Minute
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" json:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// StorageConfig points at the S3-compatible object store holding document
// artifacts and rendered PNGs. When Endpoint is empty a local directory
// store is used instead.
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	// PublicDomain, when set, fronts public URLs (e.g. a CDN domain).
	PublicDomain string `yaml:"public_domain" json:"public_domain"`
	// DevURL overrides public URLs entirely for local development.
	DevURL       string `yaml:"dev_url" json:"dev_url"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
	LocalDir     string `yaml:"local_dir" json:"local_dir"`
}

type LLMConfig struct {
	APIKey            string  `yaml:"api_key" json:"api_key"`
	DefaultFlashModel string  `yaml:"default_flash_model" json:"default_flash_model"`
	DefaultProModel   string  `yaml:"default_pro_model" json:"default_pro_model"`
	MaxTokens         int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature       float64 `yaml:"temperature" json:"temperature"`
	TopP              float64 `yaml:"top_p" json:"top_p"`
	// MediaResolution is one of low, medium, high.
	MediaResolution string `yaml:"media_resolution" json:"media_resolution"`
	ThinkingEnabled bool   `yaml:"thinking_enabled" json:"thinking_enabled"`
	// ThinkingBudget of 0 keeps the provider default.
	ThinkingBudget int `yaml:"thinking_budget" json:"thinking_budget"`
}

type RenderingConfig struct {
	PreviewMaxSide         int     `yaml:"preview_max_side" json:"preview_max_side"`
	ZoomPreviewMaxSide     int     `yaml:"zoom_preview_max_side" json:"zoom_preview_max_side"`
	AutoQuadrantsThreshold float64 `yaml:"auto_quadrants_threshold" json:"auto_quadrants_threshold"`
	ViewportSize           int     `yaml:"viewport_size" json:"viewport_size"`
	ViewportPadding        int     `yaml:"viewport_padding" json:"viewport_padding"`
}

type EvidenceCacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
	MaxMB   int64  `yaml:"max_mb" json:"max_mb"`
	TTLDays int    `yaml:"ttl_days" json:"ttl_days"`
	// SweepSchedule is a cron spec for the periodic TTL sweep.
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`
}

type QueueConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent" json:"max_concurrent"`
	MaxSize        int `yaml:"max_size" json:"max_size"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the admission deadline.
func (q QueueConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds) * time.Second
}

type UploadConfig struct {
	MaxFileSizeMB int64 `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// MaxBytes returns the request body cap in bytes.
func (u UploadConfig) MaxBytes() int64 {
	return u.MaxFileSizeMB << 20
}

type PromptsConfig struct {
	// Dir overlays file-based prompts (<name>.md) over store prompts and is
	// hot-reloaded when it changes.
	Dir string `yaml:"dir" json:"dir"`
}

type LoggingConfig struct {
	// Format is "text" or "json".
	Format    string `yaml:"format" json:"format"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
	// RedactPatterns are regexes whose matches are masked in log output.
	RedactPatterns []string `yaml:"redact_patterns" json:"redact_patterns"`
	// DialogDir holds the per-chat llm_dialog_<chat_id>.log traces.
	DialogDir string `yaml:"dialog_dir" json:"dialog_dir"`
	// DialogTruncateChars caps one dialog entry payload.
	DialogTruncateChars int `yaml:"dialog_truncate_chars" json:"dialog_truncate_chars"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled" json:"metrics_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate     float64 `yaml:"sample_rate" json:"sample_rate"`
	Environment    string  `yaml:"environment" json:"environment"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			LogLevel:    "info",
			CORSOrigins: "*",
		},
		Auth: AuthConfig{
			JWTAlgorithm:             "HS256",
			AccessTokenExpireMinutes: 1440,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Storage: StorageConfig{
			Region:       "auto",
			UsePathStyle: true,
		},
		LLM: LLMConfig{
			DefaultFlashModel: "gemini-3-flash-preview",
			DefaultProModel:   "gemini-3-pro-preview",
			MaxTokens:         8192,
			Temperature:       1.0,
			TopP:              0.95,
			MediaResolution:   "high",
			ThinkingEnabled:   true,
			ThinkingBudget:    0,
		},
		Rendering: RenderingConfig{
			PreviewMaxSide:         2000,
			ZoomPreviewMaxSide:     2000,
			AutoQuadrantsThreshold: 2.5,
			ViewportSize:           2048,
			ViewportPadding:        512,
		},
		EvidenceCache: EvidenceCacheConfig{
			Enabled:       true,
			Dir:           "evidence_cache",
			MaxMB:         2000,
			TTLDays:       14,
			SweepSchedule: "@every 6h",
		},
		Queue: QueueConfig{
			MaxConcurrent:  2,
			MaxSize:        50,
			TimeoutSeconds: 300,
		},
		Upload: UploadConfig{
			MaxFileSizeMB: 100,
		},
		Logging: LoggingConfig{
			Format:              "text",
			DialogDir:           "logs",
			DialogTruncateChars: 4000,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			SampleRate:     1.0,
			Environment:    "production",
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validResolutions = map[string]bool{"low": true, "medium": true, "high": true}

// Validate checks cross-field constraints. It returns the first violation.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !validLogLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel)
	}
	if c.Auth.JWTAlgorithm != "" && c.Auth.JWTAlgorithm != "HS256" {
		return fmt.Errorf("auth.jwt_algorithm %q is not supported", c.Auth.JWTAlgorithm)
	}
	if !validResolutions[strings.ToLower(c.LLM.MediaResolution)] {
		return fmt.Errorf("llm.media_resolution %q is not one of low, medium, high", c.LLM.MediaResolution)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %v out of range [0,2]", c.LLM.Temperature)
	}
	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p %v out of range (0,1]", c.LLM.TopP)
	}
	if c.Rendering.PreviewMaxSide <= 0 || c.Rendering.ZoomPreviewMaxSide <= 0 {
		return fmt.Errorf("rendering preview sides must be positive")
	}
	if c.Rendering.AutoQuadrantsThreshold <= 0 {
		return fmt.Errorf("rendering.auto_quadrants_threshold must be positive")
	}
	if c.EvidenceCache.Enabled {
		if strings.TrimSpace(c.EvidenceCache.Dir) == "" {
			return fmt.Errorf("evidence_cache.dir is required when the cache is enabled")
		}
		if c.EvidenceCache.MaxMB <= 0 {
			return fmt.Errorf("evidence_cache.max_mb must be positive")
		}
		if c.EvidenceCache.TTLDays <= 0 {
			return fmt.Errorf("evidence_cache.ttl_days must be positive")
		}
	}
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent must be positive")
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be positive")
	}
	if c.Queue.TimeoutSeconds <= 0 {
		return fmt.Errorf("queue.timeout_seconds must be positive")
	}
	if c.Upload.MaxFileSizeMB <= 0 {
		return fmt.Errorf("upload.max_file_size_mb must be positive")
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate %v out of range [0,1]", c.Observability.SampleRate)
	}
	return nil
}
