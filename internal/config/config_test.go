package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.ini")
}

func TestLoadSeedsDefaultsOnFirstRun(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "!", cfg.Prefix())
	assert.Equal(t, "join", cfg.Get(SectionBot, "join_command"))
	assert.Equal(t, "say", cfg.Get(SectionBot, "speak_command"))
	assert.Equal(t, 5000, cfg.GetInt(SectionServer, "port"))
	assert.Equal(t, 4, cfg.GetInt(SectionDnD, "party_size"))
	assert.Equal(t, 8, cfg.GetInt(SectionDnD, "party_cap"))

	// File was created so a second process sees the same defaults.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSetAndSavePersists(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.Set(SectionBot, "join_command", "queue")
	cfg.Set(SectionDnD, "party_size", 6)
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "queue", reloaded.Get(SectionBot, "join_command"))
	assert.Equal(t, 6, reloaded.GetInt(SectionDnD, "party_size"))
}

func TestTwitchAuthRequiresBothValues(t *testing.T) {
	cfg, err := Load(tempConfigPath(t))
	require.NoError(t, err)

	_, _, ok := cfg.TwitchAuth()
	assert.False(t, ok)

	cfg.Set(SectionTwitch, "client_id", "abc")
	_, _, ok = cfg.TwitchAuth()
	assert.False(t, ok)

	cfg.Set(SectionTwitch, "client_secret", "shh ")
	id, secret, ok := cfg.TwitchAuth()
	require.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "shh", secret)
}

func TestPrefixFallsBackToFirstCharacter(t *testing.T) {
	cfg, err := Load(tempConfigPath(t))
	require.NoError(t, err)

	cfg.Set(SectionBot, "prefix", "?!")
	assert.Equal(t, "?", cfg.Prefix())

	cfg.Set(SectionBot, "prefix", "  ")
	assert.Equal(t, "!", cfg.Prefix())
}
