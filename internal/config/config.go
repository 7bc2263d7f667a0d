package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Worker  WorkerConfig
	Whisper WhisperConfig
	Ollama  OllamaConfig
	Summary SummaryConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type WorkerConfig struct {
	PollInterval   string // duration, e.g. "2s"
	Concurrency    int
	StaleAfter     string // duration after which a Processing claim is presumed dead
	ExtractTimeout string // default per-extraction budget
	AudioTimeout   string // transcription budget; audio is the slow path
}

type WhisperConfig struct {
	BaseURL string
}

type OllamaConfig struct {
	BaseURL      string
	VisionModel  string
	SummaryModel string
}

type SummaryConfig struct {
	Enabled      bool
	PollInterval string // duration
	Timeout      string // duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Worker: WorkerConfig{
			PollInterval:   "2s",
			Concurrency:    1,
			StaleAfter:     "30m",
			ExtractTimeout: "2m",
			AudioTimeout:   "20m",
		},
		Whisper: WhisperConfig{
			BaseURL: "http://localhost:8080",
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			VisionModel:  "llava",
			SummaryModel: "gpt-oss:20b",
		},
		Summary: SummaryConfig{
			Enabled:      true,
			PollInterval: "15s",
			Timeout:      "10m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "attachd-data"
		}
	}
	return filepath.Join(dir, "attachd")
}

// Load reads configuration from the JSON config file (at
// $XDG_CONFIG_HOME/attachd/config.json) with ATTACHD_* environment
// variables taking precedence.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
