package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dualverify/internal/conf"
)

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()

	root := RootCommand(settings)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func loadSettings(t *testing.T) *conf.Settings {
	t.Helper()

	settings, err := conf.Load()
	require.NoError(t, err)
	return settings
}

func TestConfigCommandMasksSecrets(t *testing.T) {
	settings := loadSettings(t)
	settings.MQTT.Password = "hunter2"

	out, err := execute(t, settings, "config")
	require.NoError(t, err)

	assert.Contains(t, out, "targetfrequency")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")
}

func TestConfigInitWritesDefaultFile(t *testing.T) {
	settings := loadSettings(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, settings, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	_, err = execute(t, settings, "config", "init", path)
	require.Error(t, err, "existing config must not be overwritten")
}

func TestChirpThenAnalyze(t *testing.T) {
	settings := loadSettings(t)
	path := filepath.Join(t.TempDir(), "chirp.wav")

	out, err := execute(t, settings, "chirp", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	out, err = execute(t, settings, "analyze", path)
	require.NoError(t, err)
	// The default 100 ms chirp fills exactly one 4096-sample frame.
	assert.Contains(t, out, "1 of 1 frames")
}

func TestAnalyzeRequiresInput(t *testing.T) {
	settings := loadSettings(t)

	_, err := execute(t, settings, "analyze")
	require.Error(t, err)
}
