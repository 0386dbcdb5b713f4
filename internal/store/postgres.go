// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/eventdock/eventdock/internal/plugin"
)

// Querier is the subset of a pgx pool the store uses. *pgxpool.Pool and
// pgxmock pools both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const installationColumns = `id, organization_id, plugin_id, enabled, configuration, installed_at, updated_at`

// UpsertCatalog creates or replaces a catalogue entry.
func (s *PostgresStore) UpsertCatalog(ctx context.Context, entry CatalogEntry) error {
	doc, err := json.Marshal(entry.Manifest)
	if err != nil {
		return oops.In("store").With("operation", "encode manifest").With("plugin", entry.Manifest.ID).Wrap(err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO plugin_catalog (plugin_id, version, manifest, bundle, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (plugin_id) DO UPDATE
		 SET version = $2, manifest = $3, bundle = $4, updated_at = now()`,
		entry.Manifest.ID, entry.Manifest.Version, doc, entry.Bundle)
	if err != nil {
		return oops.In("store").With("operation", "upsert catalog").With("plugin", entry.Manifest.ID).Wrap(err)
	}
	return nil
}

// Catalog returns every catalogue manifest ordered by id.
func (s *PostgresStore) Catalog(ctx context.Context) ([]plugin.Manifest, error) {
	rows, err := s.db.Query(ctx, `SELECT plugin_id, manifest FROM plugin_catalog ORDER BY plugin_id`)
	if err != nil {
		return nil, oops.In("store").With("operation", "list catalog").Wrap(err)
	}
	defer rows.Close()

	out := make([]plugin.Manifest, 0)
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, oops.In("store").With("operation", "scan catalog row").Wrap(err)
		}
		var m plugin.Manifest
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, oops.In("store").Code(CodeCorruptRecord).With("plugin", id).Wrap(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate catalog").Wrap(err)
	}
	return out, nil
}

// Bundle returns the bundle source stored with a catalogue entry.
func (s *PostgresStore) Bundle(ctx context.Context, pluginID string) ([]byte, error) {
	var bundle []byte
	err := s.db.QueryRow(ctx, `SELECT bundle FROM plugin_catalog WHERE plugin_id = $1`, pluginID).Scan(&bundle)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && len(bundle) == 0) {
		return nil, oops.In("store").Code(CodeUnknownPlugin).With("plugin", pluginID).Wrap(ErrUnknownPlugin)
	}
	if err != nil {
		return nil, oops.In("store").With("operation", "get bundle").With("plugin", pluginID).Wrap(err)
	}
	return bundle, nil
}

// ListInstalled returns an organization's installations ordered by id.
func (s *PostgresStore) ListInstalled(ctx context.Context, orgID string) ([]plugin.InstalledPlugin, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+installationColumns+` FROM plugin_installations
		 WHERE organization_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, oops.In("store").With("operation", "list installations").With("organization", orgID).Wrap(err)
	}
	defer rows.Close()

	out := make([]plugin.InstalledPlugin, 0)
	for rows.Next() {
		p, err := scanInstallation(rows)
		if err != nil {
			return nil, oops.In("store").With("organization", orgID).Wrap(err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate installations").With("organization", orgID).Wrap(err)
	}
	return out, nil
}

// Install records a new, enabled installation. Installing a plugin twice for
// the same organization fails with ErrAlreadyInstalled.
func (s *PostgresStore) Install(ctx context.Context, orgID, pluginID, installedBy string) (*plugin.InstalledPlugin, error) {
	var installedByArg any = installedBy
	if installedBy == "" {
		installedByArg = nil
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO plugin_installations (id, organization_id, plugin_id, installed_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+installationColumns,
		ulid.Make().String(), orgID, pluginID, installedByArg)
	p, err := scanInstallation(row)
	if err == nil {
		return p, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return nil, oops.In("store").Code(CodeAlreadyInstalled).
				With("plugin", pluginID).
				With("organization", orgID).
				Wrap(ErrAlreadyInstalled)
		case pgerrcode.ForeignKeyViolation:
			return nil, oops.In("store").Code(CodeUnknownPlugin).With("plugin", pluginID).Wrap(ErrUnknownPlugin)
		}
	}
	return nil, oops.In("store").With("operation", "install").With("plugin", pluginID).With("organization", orgID).Wrap(err)
}

// Uninstall deletes an installation.
func (s *PostgresStore) Uninstall(ctx context.Context, orgID, installationID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM plugin_installations WHERE id = $1 AND organization_id = $2`,
		installationID, orgID)
	if err != nil {
		return oops.In("store").With("operation", "uninstall").With("installation", installationID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(orgID, installationID)
	}
	return nil
}

// SetEnabled flips an installation's enabled flag.
func (s *PostgresStore) SetEnabled(ctx context.Context, orgID, installationID string, enabled bool) (*plugin.InstalledPlugin, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE plugin_installations SET enabled = $3, updated_at = now()
		 WHERE id = $1 AND organization_id = $2
		 RETURNING `+installationColumns,
		installationID, orgID, enabled)
	return s.updated(row, "set enabled", orgID, installationID)
}

// Configure replaces an installation's configuration.
func (s *PostgresStore) Configure(ctx context.Context, orgID, installationID string, config map[string]any) (*plugin.InstalledPlugin, error) {
	if config == nil {
		config = map[string]any{}
	}
	doc, err := json.Marshal(config)
	if err != nil {
		return nil, oops.In("store").With("operation", "encode configuration").With("installation", installationID).Wrap(err)
	}
	row := s.db.QueryRow(ctx,
		`UPDATE plugin_installations SET configuration = $3, updated_at = now()
		 WHERE id = $1 AND organization_id = $2
		 RETURNING `+installationColumns,
		installationID, orgID, doc)
	return s.updated(row, "configure", orgID, installationID)
}

func (s *PostgresStore) updated(row pgx.Row, operation, orgID, installationID string) (*plugin.InstalledPlugin, error) {
	p, err := scanInstallation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(orgID, installationID)
	}
	if err != nil {
		return nil, oops.In("store").With("operation", operation).With("installation", installationID).Wrap(err)
	}
	return p, nil
}

func notFound(orgID, installationID string) error {
	return oops.In("store").Code(CodeNotFound).
		With("installation", installationID).
		With("organization", orgID).
		Wrap(ErrNotFound)
}

func scanInstallation(row pgx.Row) (*plugin.InstalledPlugin, error) {
	var (
		p      plugin.InstalledPlugin
		config []byte
		inst   time.Time
		upd    time.Time
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.PluginID, &p.Enabled, &config, &inst, &upd); err != nil {
		return nil, err //nolint:wrapcheck // callers add operation context
	}
	p.Configuration = map[string]any{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &p.Configuration); err != nil {
			return nil, oops.Code(CodeCorruptRecord).With("installation", p.ID).Wrap(err)
		}
	}
	p.InstalledAt = inst.UTC()
	p.UpdatedAt = upd.UTC()
	return &p, nil
}
