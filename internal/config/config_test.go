// file: internal/config/config_test.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8b9c-0d1e-2f3a4b5c6d7e

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitConfig tests configuration initialization with defaults
func TestInitConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	InitConfig()

	assert.Equal(t, "pebble", AppConfig.DatabaseType)
	assert.False(t, AppConfig.EnableSQLite)
	assert.Equal(t, "dj-tagger.pebble", AppConfig.DatabasePath)
	assert.Equal(t, "fpcalc", AppConfig.FpcalcPath)
	assert.Equal(t, 60*time.Second, AppConfig.FingerprintTimeout)
	assert.Equal(t, 4, AppConfig.FingerprintWorkers)
	assert.Zero(t, AppConfig.SimilarityThreshold)
	assert.Equal(t, []string{"mp3", "flac", "wav", "m4a", "aac", "ogg"}, AppConfig.SupportedExtensions)
	assert.Equal(t, "8080", AppConfig.Port)
	assert.Equal(t, 120, AppConfig.RateLimitPerMinute)
}

func TestInitConfig_NormalizesValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("database_type", "sqlite3")
	viper.Set("fingerprint_workers", 64)
	viper.Set("similarity_threshold", 1.5)
	viper.Set("supported_extensions", []string{".MP3, flac", " .Ogg"})

	InitConfig()

	assert.Equal(t, "sqlite", AppConfig.DatabaseType)
	assert.Equal(t, MaxWorkers, AppConfig.FingerprintWorkers)
	assert.Zero(t, AppConfig.SimilarityThreshold)
	assert.Equal(t, []string{"mp3", "flac", "ogg"}, AppConfig.SupportedExtensions)
}

func TestInitConfig_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("DJTAGGER_FPCALC_PATH", "/opt/chromaprint/fpcalc")
	t.Setenv("DJTAGGER_SERVER_PORT", "9090")

	InitConfig()

	assert.Equal(t, "/opt/chromaprint/fpcalc", AppConfig.FpcalcPath)
	assert.Equal(t, "9090", AppConfig.Port)
}

func TestClampWorkers(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 8: 8, 16: 16, 17: 16}
	for in, want := range cases {
		assert.Equal(t, want, ClampWorkers(in), "ClampWorkers(%d)", in)
	}
}

func TestIsSupportedExtension(t *testing.T) {
	c := Config{SupportedExtensions: []string{"mp3", "flac"}}
	assert.True(t, c.IsSupportedExtension(".MP3"))
	assert.True(t, c.IsSupportedExtension("flac"))
	assert.False(t, c.IsSupportedExtension(".wav"))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DJTAGGER_TEST_ONLY_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DJTAGGER_TEST_ONLY_KEY") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-dotenv", os.Getenv("DJTAGGER_TEST_ONLY_KEY"))
}
