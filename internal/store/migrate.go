// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationRunner is the part of golang-migrate the Migrator drives; tests
// substitute a fake so no database is needed.
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	runner     migrationRunner
	migrations []Migration
}

// Migration is one embedded schema version.
type Migration struct {
	Version uint
	Name    string
}

// MigrationStatus reports where the schema stands.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied []Migration
	Pending []Migration
}

// NewMigrator connects golang-migrate to databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme the driver expects.
func NewMigrator(databaseURL string) (*Migrator, error) {
	migrations, err := embeddedMigrations(migrationsFS)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.In("migrate").Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, driverURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.In("migrate").Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	return &Migrator{runner: m, migrations: migrations}, nil
}

func driverURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	if err := m.runner.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("migrate").Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back every migration. All plugin data is dropped.
func (m *Migrator) Down() error {
	if err := m.runner.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("migrate").Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps migrates n versions up (n > 0) or down (n < 0).
func (m *Migrator) Steps(n int) error {
	if err := m.runner.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("migrate").Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Force records version as applied without running anything. It is the way
// out of a dirty state after the database was repaired by hand.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.In("migrate").Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.runner.Force(version); err != nil {
		return oops.In("migrate").Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Status returns the current version and splits the embedded migrations into
// applied and pending.
func (m *Migrator) Status() (MigrationStatus, error) {
	version, dirty, err := m.runner.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		version, dirty, err = 0, false, nil
	}
	if err != nil {
		return MigrationStatus{}, oops.In("migrate").Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}

	st := MigrationStatus{Version: version, Dirty: dirty}
	for _, mig := range m.migrations {
		if mig.Version <= version {
			st.Applied = append(st.Applied, mig)
		} else {
			st.Pending = append(st.Pending, mig)
		}
	}
	return st, nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.runner.Close()
	switch {
	case srcErr != nil && dbErr != nil:
		return oops.In("migrate").Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	case srcErr != nil:
		return oops.In("migrate").Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	case dbErr != nil:
		return oops.In("migrate").Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// embeddedMigrations lists the up migrations in fsys, sorted by version.
// Files not named NNNNNN_name.up.sql are ignored.
func embeddedMigrations(fsys fs.ReadDirFS) ([]Migration, error) {
	entries, err := fsys.ReadDir("migrations")
	if err != nil {
		return nil, oops.In("migrate").Code("MIGRATION_LIST_FAILED").Wrap(err)
	}

	var out []Migration
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d_", &version); err != nil || version == 0 {
			continue
		}
		out = append(out, Migration{Version: version, Name: name})
	}
	slices.SortFunc(out, func(a, b Migration) int { return int(a.Version) - int(b.Version) })
	return out, nil
}
