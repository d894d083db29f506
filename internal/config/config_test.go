package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "english-eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: test-eval\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "test-eval", cfg.App.Name)
	require.Equal(t, "Asia/Kolkata", cfg.App.Timezone)
	require.Equal(t, 25, cfg.Upload.MaxMB)
	require.Equal(t, int64(25*1024*1024), cfg.Upload.MaxBytes())
	require.Equal(t, DefaultContentTypes, cfg.Upload.AllowedContentTypes)
	require.Equal(t, "scribe_v1", cfg.Transcription.ModelID)
	require.Equal(t, 120*time.Second, cfg.Transcription.Timeout)
	require.Equal(t, 3, cfg.Transcription.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Scoring.RetryDelay)
	require.Equal(t, 2, cfg.Scoring.MaxCorrections)
	require.Equal(t, "reject", cfg.Scoring.ScorePolicy)
	require.Equal(t, "derive", cfg.Scoring.OverallPolicy)
	require.Equal(t, "mean", cfg.Aggregation.Method)
	require.False(t, cfg.Events.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "english-eval.yaml")
	yaml := `
upload:
  max_mb: 10
scoring:
  api_key: ${TEST_SCORING_KEY}
  overall_policy: verify
aggregation:
  method: weighted
  weights:
    grammar: 2
    fluency: 1
auth:
  tokens:
    tok-1: someone@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TEST_SCORING_KEY", "sk-test")
	t.Setenv("EVAL_TRANSCRIPTION_MAX_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Upload.MaxMB)
	require.Equal(t, "sk-test", cfg.Scoring.APIKey)
	require.Equal(t, "verify", cfg.Scoring.OverallPolicy)
	require.Equal(t, 5, cfg.Transcription.MaxAttempts)
	require.Equal(t, "weighted", cfg.Aggregation.Method)
	require.Equal(t, 2.0, cfg.Aggregation.Weights["grammar"])
	require.Equal(t, "someone@example.com", cfg.Auth.Tokens["tok-1"])
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:           AppConfig{Timezone: "UTC"},
			Database:      DatabaseConfig{Driver: "memory"},
			Upload:        UploadConfig{MaxMB: 25},
			Transcription: TranscriptionConfig{MaxAttempts: 3, Timeout: 120 * time.Second},
			Scoring:       ScoringConfig{MaxAttempts: 3, Timeout: 90 * time.Second, ScorePolicy: "reject", OverallPolicy: "derive"},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero upload limit", func(c *Config) { c.Upload.MaxMB = 0 }},
		{"no transcription attempts", func(c *Config) { c.Transcription.MaxAttempts = 0 }},
		{"no scoring attempts", func(c *Config) { c.Scoring.MaxAttempts = 0 }},
		{"zero transcription timeout", func(c *Config) { c.Transcription.Timeout = 0 }},
		{"negative scoring timeout", func(c *Config) { c.Scoring.Timeout = -time.Second }},
		{"negative corrections", func(c *Config) { c.Scoring.MaxCorrections = -1 }},
		{"unknown score policy", func(c *Config) { c.Scoring.ScorePolicy = "ignore" }},
		{"unknown overall policy", func(c *Config) { c.Scoring.OverallPolicy = "trust" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"bad timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}
