package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ATTACHD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "ATTACHD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ATTACHD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "worker.poll_interval", typ: kString, env: "ATTACHD_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.concurrency", typ: kInt, env: "ATTACHD_WORKER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Worker.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.Concurrency },
	},
	{
		key: "worker.stale_after", typ: kString, env: "ATTACHD_WORKER_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Worker.StaleAfter = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.StaleAfter },
	},
	{
		key: "worker.extract_timeout", typ: kString, env: "ATTACHD_WORKER_EXTRACT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Worker.ExtractTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.ExtractTimeout },
	},
	{
		key: "worker.audio_timeout", typ: kString, env: "ATTACHD_WORKER_AUDIO_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Worker.AudioTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.AudioTimeout },
	},
	{
		key: "whisper.base_url", typ: kString, env: "ATTACHD_WHISPER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.BaseURL },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ATTACHD_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.vision_model", typ: kString, env: "ATTACHD_OLLAMA_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.VisionModel },
	},
	{
		key: "ollama.summary_model", typ: kString, env: "ATTACHD_OLLAMA_SUMMARY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.SummaryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.SummaryModel },
	},
	{
		key: "summary.enabled", typ: kBool, env: "ATTACHD_SUMMARY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Summary.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Summary.Enabled },
	},
	{
		key: "summary.poll_interval", typ: kString, env: "ATTACHD_SUMMARY_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Summary.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.PollInterval },
	},
	{
		key: "summary.timeout", typ: kString, env: "ATTACHD_SUMMARY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Summary.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "ATTACHD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
