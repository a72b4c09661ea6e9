// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IMAPConfig holds connection and filter settings for one IMAP account.
type IMAPConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	SSLPort          int      `yaml:"ssl_port"`
	UseSSL           bool     `yaml:"use_ssl"`
	UseStartTLS      bool     `yaml:"use_starttls"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DeleteAfterFetch bool     `yaml:"delete_after_fetch"`
	Folder           string   `yaml:"folder"`
	Filters          []string `yaml:"filters"` // unread | from:x | subject:x | since:x
	Since            string   `yaml:"since"`   // RFC 3339 date, optional
	MaxAgeDays       int      `yaml:"max_age_days"`

	// OAuth enables XOAUTH2 logins instead of password auth.
	OAuth OAuthConfig `yaml:"oauth"`
}

// OAuthConfig holds client-credentials settings for XOAUTH2 IMAP logins.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether OAuth login is configured.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.TokenURL != ""
}

// ValidatorConfig holds the decorative-image rejection thresholds.
type ValidatorConfig struct {
	MinSizeBytes   int     `yaml:"min_size_bytes"`
	MinWidth       int     `yaml:"min_width"`
	MinHeight      int     `yaml:"min_height"`
	MaxAspectRatio float64 `yaml:"max_aspect_ratio"`
}

// Config holds all configuration for the ingestion service.
type Config struct {
	IMAP IMAPConfig

	// File-drop inbox directory; empty disables the inbox scanner.
	InboxDir string

	// Content-addressed attachment store root.
	AttachmentsDir string

	// Auto-assign: recipient-address routing via the alias table. When
	// disabled, DefaultUser owns every ingested message.
	AutoAssign  bool
	DefaultUser string

	// Polling
	PollInterval time.Duration

	// Redis
	RedisURL string
	OCRQueue string

	// Postgres
	DatabaseURL string

	// Admin/health server
	Port int

	Validator ValidatorConfig
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	IMAP  IMAPConfig `yaml:"imap"`
	Inbox struct {
		Dir string `yaml:"dir"`
	} `yaml:"inbox"`
	Storage struct {
		AttachmentsDir string `yaml:"attachments_dir"`
	} `yaml:"storage"`
	AutoAssign struct {
		Enabled     bool   `yaml:"enabled"`
		DefaultUser string `yaml:"default_user"`
	} `yaml:"auto_assign"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			OCR string `yaml:"ocr"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Validator ValidatorConfig `yaml:"validator"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		IMAP:           raw.IMAP,
		InboxDir:       firstNonEmpty(raw.Inbox.Dir, envOrDefault("INBOX_DIR", "")),
		AttachmentsDir: firstNonEmpty(raw.Storage.AttachmentsDir, envOrDefault("ATTACHMENTS_DIR", "/var/mail/attachments")),
		AutoAssign:     raw.AutoAssign.Enabled,
		DefaultUser:    raw.AutoAssign.DefaultUser,
		PollInterval:   envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		RedisURL:       firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		OCRQueue:       firstNonEmpty(raw.Redis.Queues.OCR, envOrDefault("OCR_QUEUE", "ocr_tasks")),
		DatabaseURL:    firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		Port:           envOrDefaultInt("PORT", 8080),
		Validator:      raw.Validator,
	}

	applyDefaults(cfg)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required — set database.url in config.yaml or DATABASE_URL")
	}
	if !cfg.AutoAssign && cfg.DefaultUser == "" {
		return nil, fmt.Errorf("auto_assign is disabled and no default_user is configured")
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.IMAP.Folder == "" {
		cfg.IMAP.Folder = "INBOX"
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 143
	}
	if cfg.IMAP.SSLPort == 0 {
		cfg.IMAP.SSLPort = 993
	}
	if cfg.Validator.MinSizeBytes == 0 {
		cfg.Validator.MinSizeBytes = 10 * 1024
	}
	if cfg.Validator.MinWidth == 0 {
		cfg.Validator.MinWidth = 50
	}
	if cfg.Validator.MinHeight == 0 {
		cfg.Validator.MinHeight = 50
	}
	if cfg.Validator.MaxAspectRatio == 0 {
		cfg.Validator.MaxAspectRatio = 10.0
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
