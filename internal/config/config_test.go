package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: 9090
  allowedOrigins: ["https://console.example.com"]
database:
  driver: postgres
  host: db
  user: app
  password: from-file
  name: calls
openai:
  apiKey: file-key
pipeline:
  workers: 2
  backoffMillis: 500
auth:
  apiKeys:
    bridge: k1
`

func TestParse_DefaultsAndEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("DB_PASSWORD", "")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.OpenAI.APIKey)
	assert.Equal(t, "from-file", cfg.Database.Password)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, "openai", cfg.STT.Provider)
	assert.Equal(t, "ko", cfg.STT.Language)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 500, cfg.Pipeline.BackoffMillis)
	assert.Equal(t, 50000, cfg.Pipeline.MinAudioBytes)
	assert.Equal(t, 10*time.Minute, cfg.DedupWindow())
	assert.Equal(t, 5*time.Minute, cfg.RunBudget())
	assert.Equal(t, "callintel:events", cfg.Redis.Stream)
	assert.Equal(t, map[string]string{"bridge": "k1"}, cfg.Auth.APIKeys)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\n"))
	assert.ErrorContains(t, err, "database.driver")

	_, err = Parse([]byte("stt:\n  provider: diarize\n"))
	assert.ErrorContains(t, err, "stt.baseURL")

	_, err = Parse([]byte("pipeline:\n  timezone: Mars/Olympus\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("server: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	var cfg Config
	cfg.Database.User = "app"
	cfg.Database.Password = "p@ss"
	cfg.Database.Host = "db"
	cfg.Database.Port = 3306
	cfg.Database.Name = "calls"
	assert.Equal(t, "app:p@ss@tcp(db:3306)/calls?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true", cfg.MySQLDSN())

	cfg.Database.Port = 5432
	cfg.Database.SSLMode = "disable"
	assert.Equal(t, "postgres://app:p%40ss@db:5432/calls?sslmode=disable&timezone=UTC", cfg.PostgresDSN())
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1))

	_, err = NewLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
