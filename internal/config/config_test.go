package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Pipeline.Language != "ko" {
		t.Errorf("Pipeline.Language = %q, want %q", cfg.Pipeline.Language, "ko")
	}
	if cfg.Pipeline.ChunkSeconds != 600 {
		t.Errorf("Pipeline.ChunkSeconds = %d, want 600", cfg.Pipeline.ChunkSeconds)
	}
	if cfg.Pipeline.Diarize {
		t.Error("Pipeline.Diarize should default to false")
	}
	if !cfg.Pipeline.IncludeTimestamps || !cfg.Pipeline.RemoveFillers {
		t.Error("timestamps and filler removal should default to true")
	}
	if cfg.Pipeline.GapThreshold != 1.2 || cfg.Pipeline.MaxChars != 160 {
		t.Errorf("paragraph defaults = (%v, %d), want (1.2, 160)", cfg.Pipeline.GapThreshold, cfg.Pipeline.MaxChars)
	}
	if cfg.Pipeline.BatchThresholdSec != 900 || cfg.Pipeline.BatchSizeSec != 600 {
		t.Errorf("batch defaults = (%d, %d), want (900, 600)", cfg.Pipeline.BatchThresholdSec, cfg.Pipeline.BatchSizeSec)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	yamlContent := `
port: 9090
cors_origins: ["http://localhost:3000"]
pipeline:
  language: en
  chunk_seconds: 300
  engine: gemini
gemini:
  model: gemini-2.5-pro
fillers:
  en:
    - pattern: '(^|\s)(?:um+)(\s)'
      replacement: '${1}${2}'
log_level: debug
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.Pipeline.Language != "en" || cfg.Pipeline.ChunkSeconds != 300 || cfg.Pipeline.Engine != "gemini" {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Pipeline.MaxChars != 160 {
		t.Errorf("Pipeline.MaxChars = %d, want default 160", cfg.Pipeline.MaxChars)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("Gemini.Model = %q", cfg.Gemini.Model)
	}
	if rules := cfg.Fillers["en"]; len(rules) != 1 || rules[0].Replacement != "${1}${2}" {
		t.Errorf("Fillers[en] = %+v", rules)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("pipeline:\n  language: en\n"), 0644); err != nil {
		t.Fatal(err)
	}
	dataDir := t.TempDir()

	t.Setenv("SCRIBE_CONFIG", cfgPath)
	t.Setenv("SCRIBE_LANGUAGE", "ja")
	t.Setenv("DATA_PATH", dataDir)
	t.Setenv("SCRIBE_CHUNK_SECONDS", "120")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("HUGGINGFACE_TOKEN", "legacy")
	t.Setenv("HF_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.Language != "ja" {
		t.Errorf("Pipeline.Language = %q, want ja", cfg.Pipeline.Language)
	}
	if cfg.Pipeline.ChunkSeconds != 120 {
		t.Errorf("Pipeline.ChunkSeconds = %d, want 120", cfg.Pipeline.ChunkSeconds)
	}
	if cfg.DBPath != filepath.Join(dataDir, "scribe.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v, want 2 entries", cfg.CORSOrigins)
	}
	if cfg.Diarize.HFToken != "legacy" {
		t.Errorf("Diarize.HFToken = %q, want legacy", cfg.Diarize.HFToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"zero chunk", func(c *Config) { c.Pipeline.ChunkSeconds = 0 }, "chunk_seconds"},
		{"zero max chars", func(c *Config) { c.Pipeline.MaxChars = 0 }, "max_chars"},
		{"negative gap", func(c *Config) { c.Pipeline.GapThreshold = -1 }, "gap_threshold"},
		{"unknown engine", func(c *Config) { c.Pipeline.Engine = "vosk" }, "pipeline.engine"},
		{"unknown provider", func(c *Config) { c.Pipeline.PostProvider = "claude" }, "post_provider"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"empty filler pattern", func(c *Config) {
			c.Fillers = map[string][]FillerRule{"ko": {{Pattern: ""}}}
		}, "fillers.ko[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
