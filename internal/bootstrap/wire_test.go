package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveline/internal/domain"
	"liveline/internal/journal"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("LIVELINE_CONFIG", "")
	t.Setenv("LIVELINE_JOURNAL", "")
	t.Setenv("LIVELINE_RECORD_SESSIONS", "")
	t.Setenv("LIVELINE_LOG_DIR", filepath.Join(home, "logs"))
	t.Setenv("LIVELINE_LOG_CONSOLE", "false")
	t.Setenv("LIVELINE_LOG_LEVEL", "")
	t.Setenv("GEMINI_API_KEY", "test-key")
	return home
}

func TestBuildSuccess(t *testing.T) {
	home := isolate(t)

	services, err := Build(context.Background(), noopEventSink{}, journal.NewTranscript())
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close(context.Background()) })

	require.NotNil(t, services.Controller)
	require.NotNil(t, services.Journal)
	assert.Equal(t, "test-key", services.Config.Gemini.APIKey)
	assert.Equal(t, domain.SessionStateIdle, services.Controller.Status().State)

	_, err = os.Stat(filepath.Join(home, ".local", "share", "liveline", "journal.db"))
	assert.NoError(t, err)
}

func TestBuildWithoutJournal(t *testing.T) {
	isolate(t)
	t.Setenv("LIVELINE_JOURNAL", "off")

	services, err := Build(context.Background(), noopEventSink{}, journal.NewTranscript())
	require.NoError(t, err)
	t.Cleanup(func() { _ = services.Close(context.Background()) })

	assert.Nil(t, services.Journal)
}

func TestBuildFailsOnInvalidConfig(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))
	t.Setenv("LIVELINE_CONFIG", path)

	_, err := Build(context.Background(), noopEventSink{}, journal.NewTranscript())
	require.Error(t, err)
}

func TestBuildFailsOnInvalidLogLevel(t *testing.T) {
	isolate(t)
	t.Setenv("LIVELINE_LOG_LEVEL", "loud")

	_, err := Build(context.Background(), noopEventSink{}, journal.NewTranscript())
	require.Error(t, err)
}

func TestServicesCloseWithoutSession(t *testing.T) {
	isolate(t)

	services, err := Build(context.Background(), noopEventSink{}, journal.NewTranscript())
	require.NoError(t, err)
	require.NoError(t, services.Close(context.Background()))
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
