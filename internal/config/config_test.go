package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"LIVELINE_CONFIG", "GEMINI_API_KEY", "API_KEY", "GEMINI_API_BASE", "GEMINI_MODEL", "GEMINI_VOICE",
		"LIVELINE_SYSTEM_INSTRUCTION", "LIVELINE_FFMPEG_COMMAND", "LIVELINE_AUDIO_INPUT_FORMAT",
		"LIVELINE_AUDIO_INPUT_DEVICE", "LIVELINE_PLAYER_COMMAND", "LIVELINE_VIDEO_INPUT_FORMAT",
		"LIVELINE_VIDEO_DEVICE", "LIVELINE_VIDEO_WIDTH", "LIVELINE_VIDEO_HEIGHT", "LIVELINE_JPEG_QUALITY",
		"LIVELINE_AUDIO_BLOCK_SIZE", "LIVELINE_FRAME_INTERVAL_MS", "LIVELINE_PREOPEN_QUEUE",
		"LIVELINE_JOURNAL", "LIVELINE_RECORD_SESSIONS", "LIVELINE_RECORDINGS_DIR",
		"LIVELINE_LOG_LEVEL", "LIVELINE_LOG_DIR", "LIVELINE_LOG_CONSOLE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	clearEnv(t, home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gemini.Voice != "Zephyr" {
		t.Fatalf("unexpected voice: %q", cfg.Gemini.Voice)
	}
	if cfg.Session.BlockSize != 4096 || cfg.Session.FrameInterval != 250*time.Millisecond || cfg.Session.PreOpenQueue != 16 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Video.JPEGQuality != 80 {
		t.Fatalf("unexpected jpeg quality: %d", cfg.Video.JPEGQuality)
	}
	if want := filepath.Join(home, ".local", "share", "liveline", "journal.db"); cfg.Storage.JournalPath != want {
		t.Fatalf("unexpected journal path: %q", cfg.Storage.JournalPath)
	}
	if cfg.Path != "" {
		t.Fatalf("expected no config file, got %q", cfg.Path)
	}
}

func TestLoadReadsTOMLThenEnv(t *testing.T) {
	home := t.TempDir()
	clearEnv(t, home)

	path := filepath.Join(home, ".config", "liveline", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	contents := strings.Join([]string{
		`[gemini]`,
		`model = "file-model"`,
		`voice = "Puck"`,
		`[session]`,
		`frame_interval = "500ms"`,
		`block_size = 2048`,
		`[storage]`,
		`record_sessions = true`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("GEMINI_VOICE", "Kore")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected config path %q, got %q", path, cfg.Path)
	}
	if cfg.Gemini.Model != "file-model" {
		t.Fatalf("expected file model, got %q", cfg.Gemini.Model)
	}
	if cfg.Gemini.Voice != "Kore" {
		t.Fatalf("env should override file voice, got %q", cfg.Gemini.Voice)
	}
	if cfg.Gemini.APIKey != "secret" {
		t.Fatalf("unexpected api key: %q", cfg.Gemini.APIKey)
	}
	if cfg.Session.FrameInterval != 500*time.Millisecond || cfg.Session.BlockSize != 2048 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if !cfg.Storage.RecordSessions {
		t.Fatalf("expected recording enabled")
	}
}

func TestLoadDataDirMovesDerivedPaths(t *testing.T) {
	home := t.TempDir()
	clearEnv(t, home)

	dataDir := filepath.Join(home, "srv", "liveline")
	explicitLogs := filepath.Join(home, "var", "log")
	path := filepath.Join(home, "custom.toml")
	contents := strings.Join([]string{
		`[storage]`,
		`data_dir = "` + filepath.ToSlash(dataDir) + `"`,
		`[logging]`,
		`dir = "` + filepath.ToSlash(explicitLogs) + `"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LIVELINE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Storage.DataDir != filepath.ToSlash(dataDir) {
		t.Fatalf("unexpected data dir: %q", cfg.Storage.DataDir)
	}
	if want := filepath.Join(filepath.ToSlash(dataDir), "journal.db"); cfg.Storage.JournalPath != want {
		t.Fatalf("expected journal under data dir %q, got %q", want, cfg.Storage.JournalPath)
	}
	if want := filepath.Join(filepath.ToSlash(dataDir), "recordings"); cfg.Storage.RecordingsDir != want {
		t.Fatalf("expected recordings under data dir %q, got %q", want, cfg.Storage.RecordingsDir)
	}
	if cfg.Logging.Dir != filepath.ToSlash(explicitLogs) {
		t.Fatalf("explicit log dir must win, got %q", cfg.Logging.Dir)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	home := t.TempDir()
	clearEnv(t, home)

	path := filepath.Join(home, "custom.toml")
	if err := os.WriteFile(path, []byte("[gemini]\nmodle = \"typo\"\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("LIVELINE_CONFIG", path)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "gemini.modle") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRequiresExplicitConfigFile(t *testing.T) {
	home := t.TempDir()
	clearEnv(t, home)
	t.Setenv("LIVELINE_CONFIG", filepath.Join(home, "missing.toml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	home := t.TempDir()
	clearEnv(t, home)
	t.Setenv("LIVELINE_AUDIO_BLOCK_SIZE", "12")
	t.Setenv("LIVELINE_FRAME_INTERVAL_MS", "0")
	t.Setenv("LIVELINE_PREOPEN_QUEUE", "-3")
	t.Setenv("LIVELINE_JPEG_QUALITY", "400")
	t.Setenv("LIVELINE_JOURNAL", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Session.BlockSize != 4096 {
		t.Fatalf("expected block size clamp, got %d", cfg.Session.BlockSize)
	}
	if cfg.Session.FrameInterval != 250*time.Millisecond {
		t.Fatalf("expected frame interval clamp, got %v", cfg.Session.FrameInterval)
	}
	if cfg.Session.PreOpenQueue != 16 {
		t.Fatalf("expected queue clamp, got %d", cfg.Session.PreOpenQueue)
	}
	if cfg.Video.JPEGQuality != 80 {
		t.Fatalf("expected quality clamp, got %d", cfg.Video.JPEGQuality)
	}
	if cfg.Storage.JournalPath != "" {
		t.Fatalf("expected journal disabled, got %q", cfg.Storage.JournalPath)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LIVELINE_TEST_BOOL", "yes")
	if !envOrDefaultBool("LIVELINE_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("LIVELINE_TEST_BOOL", "maybe")
	if envOrDefaultBool("LIVELINE_TEST_BOOL", false) {
		t.Fatalf("expected fallback")
	}
	t.Setenv("LIVELINE_TEST_INT", "abc")
	if got := envOrDefaultInt("LIVELINE_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback int, got %d", got)
	}
	if got := firstNonEmpty(" ", "", " b "); got != "b" {
		t.Fatalf("unexpected first non-empty: %q", got)
	}
}
