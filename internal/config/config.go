// Package config loads listsync server configuration.
//
// Values are layered: schema defaults, then an optional user file (CUE or
// JSON), then LISTSYNC_* environment variables. Command-line flags are applied
// by the caller on top of the returned Config. Every layer is validated
// against the embedded CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/kelseyhightower/envconfig"
)

//go:embed schema.cue
var schemaCUE []byte

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "LISTSYNC"

// Config is the resolved server configuration.
type Config struct {
	Server  Server
	Storage Storage
	PubSub  PubSub
	Session Session
	Log     Log
}

type Server struct {
	Addr string
}

type Storage struct {
	Driver string // "sqlite" or "postgres"
	Path   string // SQLite database file
	DSN    string // Postgres connection string
}

type PubSub struct {
	Driver        string // "local" or "redis"
	RedisAddr     string
	ChannelPrefix string
}

type Session struct {
	ResolveWindow  time.Duration
	IOTimeout      time.Duration
	RetireGrace    time.Duration
	OutboundBuffer int
}

type Log struct {
	Level  string
	Format string
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// document mirrors #Config field-for-field for decoding.
type document struct {
	Server struct {
		Addr string `json:"addr"`
	} `json:"server"`
	Storage struct {
		Driver string `json:"driver"`
		Path   string `json:"path"`
		DSN    string `json:"dsn"`
	} `json:"storage"`
	PubSub struct {
		Driver        string `json:"driver"`
		RedisAddr     string `json:"redisAddr"`
		ChannelPrefix string `json:"channelPrefix"`
	} `json:"pubsub"`
	Session struct {
		ResolveWindow  string `json:"resolveWindow"`
		IOTimeout      string `json:"ioTimeout"`
		RetireGrace    string `json:"retireGrace"`
		OutboundBuffer int    `json:"outboundBuffer"`
	} `json:"session"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// env lists the supported environment overrides. Unset variables leave the
// lower layers untouched.
type env struct {
	Addr           *string `envconfig:"ADDR"`
	StorageDriver  *string `envconfig:"STORAGE_DRIVER"`
	DB             *string `envconfig:"DB"`
	DSN            *string `envconfig:"DSN"`
	PubSubDriver   *string `envconfig:"PUBSUB_DRIVER"`
	RedisAddr      *string `envconfig:"REDIS_ADDR"`
	ChannelPrefix  *string `envconfig:"CHANNEL_PREFIX"`
	ResolveWindow  *string `envconfig:"RESOLVE_WINDOW"`
	IOTimeout      *string `envconfig:"IO_TIMEOUT"`
	RetireGrace    *string `envconfig:"RETIRE_GRACE"`
	OutboundBuffer *int    `envconfig:"OUTBOUND_BUFFER"`
	LogLevel       *string `envconfig:"LOG_LEVEL"`
	LogFormat      *string `envconfig:"LOG_FORMAT"`
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return load("", false)
}

// Load reads the optional config file at path (empty for none), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadFile reads and validates a config file without environment overrides.
func LoadFile(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, withEnv bool) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// JSON is a subset of CUE, so both go through the CUE compiler.
		user := ctx.CompileBytes(data, cue.Filename(path))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("parse config file %s: %s", path, formatCUEError(err))
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %s", formatCUEError(err))
	}

	var doc document
	if err := v.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode config: %s", formatCUEError(err))
	}

	// Environment values replace file values, so they are applied to the
	// decoded document and the result is checked against the schema again.
	if withEnv {
		changed, err := applyEnv(&doc)
		if err != nil {
			return nil, err
		}
		if changed {
			merged := def.Unify(ctx.Encode(doc))
			if err := merged.Validate(cue.Concrete(true)); err != nil {
				return nil, fmt.Errorf("invalid environment override: %s", formatCUEError(err))
			}
		}
	}
	return fromDocument(doc)
}

func applyEnv(doc *document) (bool, error) {
	var e env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return false, fmt.Errorf("read environment: %w", err)
	}

	changed := false
	str := func(dst *string, p *string) {
		if p != nil {
			*dst = *p
			changed = true
		}
	}

	str(&doc.Server.Addr, e.Addr)
	str(&doc.Storage.Driver, e.StorageDriver)
	str(&doc.Storage.Path, e.DB)
	str(&doc.Storage.DSN, e.DSN)
	str(&doc.PubSub.Driver, e.PubSubDriver)
	str(&doc.PubSub.RedisAddr, e.RedisAddr)
	str(&doc.PubSub.ChannelPrefix, e.ChannelPrefix)
	str(&doc.Session.ResolveWindow, e.ResolveWindow)
	str(&doc.Session.IOTimeout, e.IOTimeout)
	str(&doc.Session.RetireGrace, e.RetireGrace)
	if e.OutboundBuffer != nil {
		doc.Session.OutboundBuffer = *e.OutboundBuffer
		changed = true
	}
	str(&doc.Log.Level, e.LogLevel)
	str(&doc.Log.Format, e.LogFormat)
	return changed, nil
}

func fromDocument(doc document) (*Config, error) {
	cfg := &Config{
		Server: Server{Addr: doc.Server.Addr},
		Storage: Storage{
			Driver: doc.Storage.Driver,
			Path:   doc.Storage.Path,
			DSN:    doc.Storage.DSN,
		},
		PubSub: PubSub{
			Driver:        doc.PubSub.Driver,
			RedisAddr:     doc.PubSub.RedisAddr,
			ChannelPrefix: doc.PubSub.ChannelPrefix,
		},
		Session: Session{OutboundBuffer: doc.Session.OutboundBuffer},
		Log:     Log{Level: doc.Log.Level, Format: doc.Log.Format},
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session.resolveWindow", doc.Session.ResolveWindow, &cfg.Session.ResolveWindow},
		{"session.ioTimeout", doc.Session.IOTimeout, &cfg.Session.IOTimeout},
		{"session.retireGrace", doc.Session.RetireGrace, &cfg.Session.RetireGrace},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		return nil, fmt.Errorf("invalid config: storage.dsn is required for the postgres driver")
	}
	if cfg.Session.IOTimeout <= 0 {
		return nil, fmt.Errorf("invalid config: session.ioTimeout must be positive")
	}
	return cfg, nil
}

func formatCUEError(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
