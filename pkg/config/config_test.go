package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte("storage:\n  root: /tmp/bars\n"))
	require.NoError(t, err)

	assert.Equal(t, 1000, c.Harvest.LimitPerLoad)
	assert.Equal(t, 10, c.Harvest.MaxCS)
	assert.Equal(t, 3*time.Second, c.Harvest.MessageTimeout)
	assert.Equal(t, "error_file.txt", c.Storage.ErrorFile)
	assert.Equal(t, "0 0 * * *", c.Harvest.Tasks.UpdateLogger)
	assert.Equal(t, []string{"en", "US"}, c.LocaleOrDefault())
}

func TestParseRejectsMissingRoot(t *testing.T) {
	_, err := Parse([]byte("log:\n  level: info\n"))
	require.Error(t, err)
}

func TestParseRejectsHalfCredentials(t *testing.T) {
	_, err := Parse([]byte("storage:\n  root: /tmp\ntradingview:\n  username: alice\n"))
	require.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  root: /from/yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MAX_CS=4\n"), 0o644))

	t.Setenv("TV_STORAGE_DIR", "/from/env")
	t.Setenv("NUM_PROCESSES", "3")
	t.Setenv("LIMIT_PER_LOAD", "lots")
	t.Setenv("MAX_CS", "")
	os.Unsetenv("MAX_CS")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", c.Storage.Root)
	assert.Equal(t, 3, c.Harvest.NumProcesses)
	assert.Equal(t, 4, c.Harvest.MaxCS)
	assert.Equal(t, 1000, c.Harvest.LimitPerLoad, "non-numeric override is ignored")
}
