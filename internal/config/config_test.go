package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "listsync.db", cfg.Storage.Path)
	assert.Equal(t, "local", cfg.PubSub.Driver)
	assert.Equal(t, "listsync:", cfg.PubSub.ChannelPrefix)
	assert.Equal(t, 60*time.Second, cfg.Session.ResolveWindow)
	assert.Equal(t, 10*time.Second, cfg.Session.IOTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.RetireGrace)
	assert.Equal(t, 256, cfg.Session.OutboundBuffer)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "listsync.json", `{
		"server": {"addr": "127.0.0.1:9000"},
		"session": {"resolveWindow": "0", "outboundBuffer": 8},
		"log": {"level": "debug", "format": "json"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, time.Duration(0), cfg.Session.ResolveWindow)
	assert.Equal(t, 8, cfg.Session.OutboundBuffer)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched sections keep their defaults
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoad_CUEFile(t *testing.T) {
	path := writeFile(t, "listsync.cue", `
storage: {
	driver: "postgres"
	dsn:    "postgres://localhost/listsync"
}
pubsub: driver: "redis"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/listsync", cfg.Storage.DSN)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, "localhost:6379", cfg.PubSub.RedisAddr)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown section", `{"cache": {"size": 1}}`},
		{"unknown key", `{"server": {"port": 80}}`},
		{"bad driver", `{"storage": {"driver": "mysql"}}`},
		{"bad duration", `{"session": {"ioTimeout": "soon"}}`},
		{"zero buffer", `{"session": {"outboundBuffer": 0}}`},
		{"zero io timeout", `{"session": {"ioTimeout": "0"}}`},
		{"postgres without dsn", `{"storage": {"driver": "postgres"}}`},
		{"bad level", `{"log": {"level": "trace"}}`},
		{"syntax", `{"server": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.json", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "listsync.json", `{"server": {"addr": ":7000"}}`)
	t.Setenv("LISTSYNC_ADDR", ":7100")
	t.Setenv("LISTSYNC_DB", "/tmp/lists.db")
	t.Setenv("LISTSYNC_REDIS_ADDR", "redis:6379")
	t.Setenv("LISTSYNC_RETIRE_GRACE", "5s")
	t.Setenv("LISTSYNC_OUTBOUND_BUFFER", "32")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Server.Addr)
	assert.Equal(t, "/tmp/lists.db", cfg.Storage.Path)
	assert.Equal(t, "redis:6379", cfg.PubSub.RedisAddr)
	assert.Equal(t, 5*time.Second, cfg.Session.RetireGrace)
	assert.Equal(t, 32, cfg.Session.OutboundBuffer)
}

func TestLoad_EnvValidated(t *testing.T) {
	t.Setenv("LISTSYNC_PUBSUB_DRIVER", "kafka")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvBadInt(t *testing.T) {
	t.Setenv("LISTSYNC_OUTBOUND_BUFFER", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestDefault_IgnoresEnv(t *testing.T) {
	t.Setenv("LISTSYNC_ADDR", ":1")
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFile_IgnoresEnv(t *testing.T) {
	t.Setenv("LISTSYNC_ADDR", ":1")
	path := writeFile(t, "listsync.cue", `server: addr: ":7000"`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}
