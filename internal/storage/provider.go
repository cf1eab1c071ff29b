// Package storage selects and opens the record store backend named in the
// configuration. Backends live in the sqlite, postgres and memory packages.
package storage

import (
	"context"
	"fmt"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/storage/memory"
	"github.com/JakeFAU/newscorpus/internal/storage/postgres"
	"github.com/JakeFAU/newscorpus/internal/storage/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects a backend and where its state lives.
type Options struct {
	Driver string
	Path   string
	DSN    string
	// MustExist refuses to create fresh state; crawling relies on it.
	MustExist bool
}

// Open returns the record store for opts.Driver.
func Open(ctx context.Context, opts Options) (harvest.RecordStore, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		store, err := sqlite.Open(ctx, sqlite.Config{Path: opts.Path, MustExist: opts.MustExist})
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{DSN: opts.DSN, MustExist: opts.MustExist})
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		// Memory state never outlives the process.
		if opts.MustExist {
			return nil, fmt.Errorf("memory store: %w", harvest.ErrStateMissing)
		}
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
