package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("LIGO_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("LIGO_ENCRYPTION_KEY", &c.Database.EncryptionKey)
	envStr("LIGO_DATA_DIR", &c.Gateway.DataDir)

	// Thread engine safety bounds keep their legacy env names, no LIGO_ prefix.
	envInt("THREAD_ABSOLUTE_MAX_TURNS", &c.Thread.AbsoluteMaxTurns)
	envInt("THREAD_MAX_MESSAGES_PER_MINUTE", &c.Thread.MaxMessagesPerMinute)
	envInt("THREAD_MAX_DURATION_MINUTES", &c.Thread.MaxDurationMinutes)
	envInt("POST_COMPLETION_BLOCK_SECONDS", &c.Thread.PostCompletionBlockSec)
	envInt("LOOP_CLOSURE_BLOCK_SECONDS", &c.Thread.LoopClosureBlockSec)

	envStr("QA_PHONE_NUMBER", &c.Channels.QAPhoneNumber)
	envStr("OLLAMA_BASE_URL", &c.Providers.OllamaBaseURL)
	envStr("KOKORO_BASE_URL", &c.Providers.KokoroBaseURL)
	envInt("TTS_CLEANUP_DELAY_SECONDS", &c.Gateway.MediaCleanupSec)

	if v := os.Getenv("CONTAMINATION_PATTERNS_EXTRA"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Guard.ContaminationExtra = append(c.Guard.ContaminationExtra, p)
			}
		}
	}

	envStr("LIGO_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("LIGO_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Watch re-reads the config file on change and invokes onReload with the
// fresh config. Only hot-safe keys should be consumed by callers
// (maintenance mode/text, contamination extras). Returns a stop func.
func Watch(path string, onReload func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				slog.Info("config reloaded", "path", path)
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
