package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

// runInit writes settings.json from flags. Unset flags keep the current layered values.
func runInit(args []string) int {
	cfg := loadConfig()
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.IconServiceURL, "icons", cfg.IconServiceURL, "default icon service base URL")
	fs.StringVar(&cfg.IconTimeout, "icon-timeout", cfg.IconTimeout, "per-icon fetch timeout")
	fs.StringVar(&cfg.IconCacheTTL, "icon-cache-ttl", cfg.IconCacheTTL, "icon cache TTL")
	fs.StringVar(&cfg.IconSweep, "icon-sweep", cfg.IconSweep, "cron schedule of the icon cache sweep")
	fs.IntVar(&cfg.IconRetries, "icon-retries", cfg.IconRetries, "attempts per icon fetch")
	fs.IntVar(&cfg.IconWorkers, "icon-workers", cfg.IconWorkers, "concurrent icon fetches")
	fs.StringVar(&cfg.Layout, "layout", cfg.Layout, "fallback layout: grid or dot")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "default canvas width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "default canvas height")
	fs.BoolVar(&cfg.Compressed, "compressed", cfg.Compressed, "write the compressed diagram form")
	fs.BoolVar(&cfg.Fallback, "fallback", cfg.Fallback, "convert unsupported diagrams with the generic converter")
	fs.StringVar(&cfg.RasterTimeout, "raster-timeout", cfg.RasterTimeout, "PNG rasterization timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cfg.Layout != "grid" && cfg.Layout != "dot" {
		fmt.Fprintf(os.Stderr, "Error: layout must be grid or dot, got %q\n", cfg.Layout)
		return 2
	}

	dir := drawmaidDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		return 1
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("Config written to %s\n", path)
	return 0
}
