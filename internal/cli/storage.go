package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/listsync/internal/config"
	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pgstore"
	"github.com/roach88/listsync/internal/session"
	"github.com/roach88/listsync/internal/store"
)

// Storage is everything the commands need from a backend.
// Implemented by store.Store and pgstore.Store.
type Storage interface {
	session.Storage
	PutUser(ctx context.Context, u model.User) error
	CreateList(ctx context.Context, info model.ListInfo) (bool, error)
	AddMember(ctx context.Context, listID, userID string) error
	ReadListInfo(ctx context.Context, listID string) (model.ListInfo, error)
	ListIDs(ctx context.Context) ([]string, error)
	ReadEditLog(ctx context.Context, listID string) ([]model.EditLogEntry, error)
	ReadOperations(ctx context.Context, listID string) ([]model.OperationRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Storage = (*store.Store)(nil)
	_ Storage = (*pgstore.Store)(nil)
)

// StorageFlags selects a backend from the command line.
type StorageFlags struct {
	Database string
	DSN      string
}

func (f *StorageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Database, "db", "", "path to SQLite database (overrides storage.path)")
	cmd.Flags().StringVar(&f.DSN, "dsn", "", "Postgres connection string (selects the postgres driver)")
}

// apply overrides cfg with the flags that were set.
func (f *StorageFlags) apply(cfg *config.Config) {
	if f.Database != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.Path = f.Database
	}
	if f.DSN != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = f.DSN
	}
}

// loadConfig resolves the configuration for a command: file and environment
// from config.Load, then storage flags.
func loadConfig(opts *RootOptions, flags *StorageFlags) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if flags != nil {
		flags.apply(cfg)
	}
	return cfg, nil
}

// openStorage opens the configured backend. With mustExist a missing SQLite
// file is an error instead of a new database.
func openStorage(ctx context.Context, cfg *config.Config, mustExist bool) (Storage, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pgstore.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	default:
		if mustExist && cfg.Storage.Path != ":memory:" {
			if _, err := os.Stat(cfg.Storage.Path); err != nil {
				return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Storage.Path), err)
			}
		}
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	}
}
