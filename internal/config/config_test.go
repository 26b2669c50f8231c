package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Queue.MaxConcurrent != 2 {
		t.Errorf("queue.max_concurrent = %d, want 2", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxSize != 50 {
		t.Errorf("queue.max_size = %d, want 50", cfg.Queue.MaxSize)
	}
	if cfg.Queue.Timeout() != 300*time.Second {
		t.Errorf("queue timeout = %v, want 5m", cfg.Queue.Timeout())
	}
	if cfg.Rendering.PreviewMaxSide != 2000 || cfg.Rendering.ZoomPreviewMaxSide != 2000 {
		t.Error("preview sides should default to 2000")
	}
	if cfg.Rendering.AutoQuadrantsThreshold != 2.5 {
		t.Errorf("auto_quadrants_threshold = %v, want 2.5", cfg.Rendering.AutoQuadrantsThreshold)
	}
	if cfg.EvidenceCache.MaxMB != 2000 || cfg.EvidenceCache.TTLDays != 14 {
		t.Error("evidence cache defaults should be 2000 MB / 14 days")
	}
	if cfg.Upload.MaxBytes() != 100<<20 {
		t.Errorf("upload cap = %d, want 100 MiB", cfg.Upload.MaxBytes())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, true},
		{"bad resolution", func(c *Config) { c.LLM.MediaResolution = "ultra" }, true},
		{"bad algorithm", func(c *Config) { c.Auth.JWTAlgorithm = "none" }, true},
		{"zero concurrency", func(c *Config) { c.Queue.MaxConcurrent = 0 }, true},
		{"cache enabled without dir", func(c *Config) { c.EvidenceCache.Dir = "" }, true},
		{"cache disabled without dir", func(c *Config) { c.EvidenceCache.Enabled = false; c.EvidenceCache.Dir = "" }, false},
		{"top_p over one", func(c *Config) { c.LLM.TopP = 1.5 }, true},
		{"bad logging format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Origins(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single", "https://app.example.com", 1},
		{"list with spaces", "https://a.example.com, https://b.example.com", 2},
		{"trailing comma", "https://a.example.com,", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ServerConfig{CORSOrigins: tt.in}.Origins()
			if len(got) != tt.want {
				t.Errorf("Origins() = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("queue:\n  max_concurrent: 4\nserver:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "config.yaml")
	body := "$include: base.yaml\nserver:\n  port: 9100\n  log_level: debug\nllm:\n  api_key: ${DOCSIGHT_TEST_KEY}\n"
	if err := os.WriteFile(main, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCSIGHT_TEST_KEY", "k-123")

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("including file should win: port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Queue.MaxConcurrent != 4 {
		t.Errorf("included value lost: max_concurrent = %d, want 4", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxSize != 50 {
		t.Errorf("default lost: max_size = %d, want 50", cfg.Queue.MaxSize)
	}
	if cfg.LLM.APIKey != "k-123" {
		t.Errorf("env expansion failed: api_key = %q", cfg.LLM.APIKey)
	}
}

func TestLoad_JSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	body := `{
  // comments are allowed here
  server: { port: 8080 },
  queue: { max_size: 10 },
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Queue.MaxSize != 10 {
		t.Errorf("json5 values not applied: port=%d max_size=%d", cfg.Server.Port, cfg.Queue.MaxSize)
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(a); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("schema should not be empty")
	}
}
