package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all drawmaid configuration.
// Priority: env vars (.env included) > settings.json > defaults.
type Config struct {
	LogLevel       string `json:"log_level"`
	IconServiceURL string `json:"icon_service_url"`
	IconTimeout    string `json:"icon_timeout"`
	IconCacheTTL   string `json:"icon_cache_ttl"`
	IconSweep      string `json:"icon_sweep"`
	IconRetries    int    `json:"icon_retries"`
	IconWorkers    int    `json:"icon_workers"`
	Layout         string `json:"layout"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Compressed     bool   `json:"compressed"`
	Fallback       bool   `json:"fallback"`
	RasterTimeout  string `json:"raster_timeout"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		IconTimeout:   "3s",
		IconCacheTTL:  "1h",
		IconSweep:     "*/5 * * * *",
		IconRetries:   1,
		IconWorkers:   8,
		Layout:        "grid",
		Width:         1200,
		Height:        800,
		RasterTimeout: "20s",
	}
}

func drawmaidDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drawmaid"
	}
	return filepath.Join(home, ".drawmaid")
}

func settingsPath() string {
	return filepath.Join(drawmaidDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override. A .env in the working directory never
	// replaces variables already set in the process environment.
	_ = godotenv.Load()

	if v := os.Getenv("DRAWMAID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRAWMAID_ICON_SERVICE_URL"); v != "" {
		cfg.IconServiceURL = v
	}
	if v := os.Getenv("DRAWMAID_ICON_TIMEOUT"); v != "" {
		cfg.IconTimeout = v
	}
	if v := os.Getenv("DRAWMAID_ICON_CACHE_TTL"); v != "" {
		cfg.IconCacheTTL = v
	}
	if v := os.Getenv("DRAWMAID_ICON_SWEEP"); v != "" {
		cfg.IconSweep = v
	}
	if v := os.Getenv("DRAWMAID_ICON_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IconRetries = n
		}
	}
	if v := os.Getenv("DRAWMAID_ICON_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IconWorkers = n
		}
	}
	if v := os.Getenv("DRAWMAID_LAYOUT"); v != "" {
		cfg.Layout = v
	}
	if v := os.Getenv("DRAWMAID_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Width = n
		}
	}
	if v := os.Getenv("DRAWMAID_HEIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Height = n
		}
	}
	if v := os.Getenv("DRAWMAID_COMPRESSED"); v != "" {
		cfg.Compressed = v == "true" || v == "1"
	}
	if v := os.Getenv("DRAWMAID_FALLBACK"); v != "" {
		cfg.Fallback = v == "true" || v == "1"
	}
	if v := os.Getenv("DRAWMAID_RASTER_TIMEOUT"); v != "" {
		cfg.RasterTimeout = v
	}

	return cfg
}

// duration parses s, returning def when s is empty or malformed.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
