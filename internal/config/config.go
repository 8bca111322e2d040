package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultSystemInstruction = "You are a friendly realtime voice assistant. Keep answers short and clear, " +
	"use simple language and a calm, warm tone."

// Config stores runtime configuration.
type Config struct {
	Gemini  GeminiConfig  `toml:"gemini"`
	Audio   AudioConfig   `toml:"audio"`
	Video   VideoConfig   `toml:"video"`
	Session SessionConfig `toml:"session"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`

	// Path is the config file that was read, if any.
	Path string `toml:"-"`
}

type GeminiConfig struct {
	APIKey            string `toml:"api_key"`
	APIBaseURL        string `toml:"api_base"`
	Model             string `toml:"model"`
	Voice             string `toml:"voice"`
	SystemInstruction string `toml:"system_instruction"`
}

type AudioConfig struct {
	FFmpegCommand string `toml:"ffmpeg_command"`
	InputFormat   string `toml:"input_format"`
	InputDevice   string `toml:"input_device"`
	PlayerCommand string `toml:"player_command"`
}

type VideoConfig struct {
	InputFormat string `toml:"input_format"`
	InputDevice string `toml:"input_device"`
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	FrameRate   int    `toml:"frame_rate"`
	JPEGQuality int    `toml:"jpeg_quality"`
}

type SessionConfig struct {
	BlockSize     int           `toml:"block_size"`
	FrameInterval time.Duration `toml:"frame_interval"`
	PreOpenQueue  int           `toml:"preopen_queue"`
	StopTimeout   time.Duration `toml:"stop_timeout"`
}

type StorageConfig struct {
	DataDir        string `toml:"data_dir"`
	JournalPath    string `toml:"journal_path"`
	RecordSessions bool   `toml:"record_sessions"`
	RecordingsDir  string `toml:"recordings_dir"`
}

type LoggingConfig struct {
	Level   string `toml:"level"`
	Dir     string `toml:"dir"`
	Console bool   `toml:"console"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	dataDir := filepath.Join(home, ".local", "share", "liveline")
	return Config{
		Gemini: GeminiConfig{
			APIBaseURL:        "wss://generativelanguage.googleapis.com",
			Model:             "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:             "Zephyr",
			SystemInstruction: defaultSystemInstruction,
		},
		Audio: AudioConfig{
			FFmpegCommand: "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
			PlayerCommand: "aplay",
		},
		Video: VideoConfig{
			InputFormat: "v4l2",
			InputDevice: "/dev/video0",
			Width:       640,
			Height:      480,
			FrameRate:   4,
			JPEGQuality: 80,
		},
		Session: SessionConfig{
			BlockSize:     4096,
			FrameInterval: 250 * time.Millisecond,
			PreOpenQueue:  16,
			StopTimeout:   5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:       dataDir,
			JournalPath:   journalPath(dataDir),
			RecordingsDir: recordingsDir(dataDir),
		},
		Logging: LoggingConfig{
			Level:   "info",
			Dir:     logsDir(dataDir),
			Console: true,
		},
	}
}

func journalPath(dataDir string) string   { return filepath.Join(dataDir, "journal.db") }
func recordingsDir(dataDir string) string { return filepath.Join(dataDir, "recordings") }
func logsDir(dataDir string) string       { return filepath.Join(dataDir, "logs") }

// Load resolves configuration from defaults, an optional TOML file and
// environment variables, in that order.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Default(home)

	path := strings.TrimSpace(os.Getenv("LIVELINE_CONFIG"))
	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, ".config", "liveline", "config.toml")
	}
	if err := loadFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	clamp(&cfg)
	return cfg, nil
}

func loadFile(cfg *Config, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.Path = path

	// Paths under data_dir follow it unless the file sets them itself.
	if meta.IsDefined("storage", "data_dir") {
		dir := cfg.Storage.DataDir
		if !meta.IsDefined("storage", "journal_path") {
			cfg.Storage.JournalPath = journalPath(dir)
		}
		if !meta.IsDefined("storage", "recordings_dir") {
			cfg.Storage.RecordingsDir = recordingsDir(dir)
		}
		if !meta.IsDefined("logging", "dir") {
			cfg.Logging.Dir = logsDir(dir)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Gemini.APIKey = envOrDefault("GEMINI_API_KEY", firstNonEmpty(os.Getenv("API_KEY"), cfg.Gemini.APIKey))
	cfg.Gemini.APIBaseURL = envOrDefault("GEMINI_API_BASE", cfg.Gemini.APIBaseURL)
	cfg.Gemini.Model = envOrDefault("GEMINI_MODEL", cfg.Gemini.Model)
	cfg.Gemini.Voice = envOrDefault("GEMINI_VOICE", cfg.Gemini.Voice)
	cfg.Gemini.SystemInstruction = envOrDefault("LIVELINE_SYSTEM_INSTRUCTION", cfg.Gemini.SystemInstruction)

	cfg.Audio.FFmpegCommand = envOrDefault("LIVELINE_FFMPEG_COMMAND", cfg.Audio.FFmpegCommand)
	cfg.Audio.InputFormat = envOrDefault("LIVELINE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("LIVELINE_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.PlayerCommand = envOrDefault("LIVELINE_PLAYER_COMMAND", cfg.Audio.PlayerCommand)

	cfg.Video.InputFormat = envOrDefault("LIVELINE_VIDEO_INPUT_FORMAT", cfg.Video.InputFormat)
	cfg.Video.InputDevice = envOrDefault("LIVELINE_VIDEO_DEVICE", cfg.Video.InputDevice)
	cfg.Video.Width = envOrDefaultInt("LIVELINE_VIDEO_WIDTH", cfg.Video.Width)
	cfg.Video.Height = envOrDefaultInt("LIVELINE_VIDEO_HEIGHT", cfg.Video.Height)
	cfg.Video.JPEGQuality = envOrDefaultInt("LIVELINE_JPEG_QUALITY", cfg.Video.JPEGQuality)

	cfg.Session.BlockSize = envOrDefaultInt("LIVELINE_AUDIO_BLOCK_SIZE", cfg.Session.BlockSize)
	cfg.Session.FrameInterval = envOrDefaultMillis("LIVELINE_FRAME_INTERVAL_MS", cfg.Session.FrameInterval)
	cfg.Session.PreOpenQueue = envOrDefaultInt("LIVELINE_PREOPEN_QUEUE", cfg.Session.PreOpenQueue)

	cfg.Storage.JournalPath = envOrDefault("LIVELINE_JOURNAL", cfg.Storage.JournalPath)
	cfg.Storage.RecordSessions = envOrDefaultBool("LIVELINE_RECORD_SESSIONS", cfg.Storage.RecordSessions)
	cfg.Storage.RecordingsDir = envOrDefault("LIVELINE_RECORDINGS_DIR", cfg.Storage.RecordingsDir)

	cfg.Logging.Level = envOrDefault("LIVELINE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Dir = envOrDefault("LIVELINE_LOG_DIR", cfg.Logging.Dir)
	cfg.Logging.Console = envOrDefaultBool("LIVELINE_LOG_CONSOLE", cfg.Logging.Console)
}

func clamp(cfg *Config) {
	if cfg.Session.BlockSize < 256 {
		cfg.Session.BlockSize = 4096
	}
	if cfg.Session.FrameInterval <= 0 {
		cfg.Session.FrameInterval = 250 * time.Millisecond
	}
	if cfg.Session.PreOpenQueue <= 0 {
		cfg.Session.PreOpenQueue = 16
	}
	if cfg.Session.StopTimeout <= 0 {
		cfg.Session.StopTimeout = 5 * time.Second
	}
	if cfg.Video.JPEGQuality <= 0 || cfg.Video.JPEGQuality > 100 {
		cfg.Video.JPEGQuality = 80
	}
	if cfg.Video.Width <= 0 || cfg.Video.Height <= 0 {
		cfg.Video.Width, cfg.Video.Height = 640, 480
	}
	if cfg.Video.FrameRate <= 0 {
		cfg.Video.FrameRate = 4
	}
	if strings.EqualFold(cfg.Storage.JournalPath, "off") {
		cfg.Storage.JournalPath = ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
