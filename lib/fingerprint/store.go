// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint persists what the build pipeline knows about
// every asset: the source record (path, content hash, settings,
// dependencies) and the build record (input fingerprint, output
// location and hash, terminal status). Durability is the point — a
// process restart must not lose the set of known assets or force a
// full rebuild of unchanged ones.
//
// The store is a SQLite database (lib/sqlitepool). Structured record
// fields are canonical CBOR columns; hashes are 32-byte blobs; asset
// ids are their UUID text form so the database stays inspectable
// with the sqlite3 shell.
package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bfpipe/bfpipe/lib/asset"
	"github.com/bfpipe/bfpipe/lib/assethash"
	"github.com/bfpipe/bfpipe/lib/bf"
	"github.com/bfpipe/bfpipe/lib/codec"
	"github.com/bfpipe/bfpipe/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS source_records (
	asset_id     TEXT PRIMARY KEY,
	source_path  TEXT NOT NULL,
	kind         INTEGER NOT NULL,
	content_hash BLOB NOT NULL,
	settings     BLOB NOT NULL,
	settings_hash BLOB NOT NULL,
	dependencies BLOB NOT NULL,
	tombstoned   INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS source_records_by_path
	ON source_records(source_path) WHERE tombstoned = 0;

CREATE TABLE IF NOT EXISTS build_records (
	asset_id          TEXT PRIMARY KEY,
	input_fingerprint BLOB NOT NULL,
	output_location   TEXT NOT NULL,
	output_hash       BLOB NOT NULL,
	status            TEXT NOT NULL,
	last_error        TEXT NOT NULL DEFAULT '',
	dependency_outputs BLOB NOT NULL,
	built_at          INTEGER NOT NULL,
	duration_ns       INTEGER NOT NULL
);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize is the connection count. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Store is the durable fingerprint store. Safe for concurrent use;
// each call borrows its own pooled connection.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens (creating if necessary) the store at cfg.Path. The
// caller must Close when done.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying pool, blocking until in-flight calls
// return their connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Get returns the source and build records for an asset. A nil
// source record means the asset is unknown; a nil build record means
// it has never completed a build attempt.
func (s *Store) Get(ctx context.Context, id asset.ID) (*asset.SourceRecord, *asset.BuildRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fingerprint store: get: %w", err)
	}
	defer s.pool.Put(conn)

	source, err := getSource(conn, id)
	if err != nil {
		return nil, nil, err
	}
	if source == nil {
		return nil, nil, nil
	}
	build, err := getBuild(conn, id)
	if err != nil {
		return nil, nil, err
	}
	return source, build, nil
}

// GetBuild returns only the build record, or nil if the asset has
// never completed a build attempt. This is the read the scheduler
// uses to resolve dependency output hashes: it observes committed
// records only, never in-progress state.
func (s *Store) GetBuild(ctx context.Context, id asset.ID) (*asset.BuildRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: get build: %w", err)
	}
	defer s.pool.Put(conn)
	return getBuild(conn, id)
}

// FindByPath returns the live (non-tombstoned) source record at the
// given library-relative path, or nil.
func (s *Store) FindByPath(ctx context.Context, sourcePath string) (*asset.SourceRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: find by path: %w", err)
	}
	defer s.pool.Put(conn)

	var record *asset.SourceRecord
	err = sqlitex.Execute(conn, `
		SELECT asset_id, source_path, kind, content_hash, settings, settings_hash,
		       dependencies, tombstoned, updated_at
		FROM source_records WHERE source_path = ? AND tombstoned = 0`,
		&sqlitex.ExecOptions{
			Args: []any{sourcePath},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := scanSource(stmt)
				if err != nil {
					return err
				}
				record = decoded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: find by path %q: %w", sourcePath, err)
	}
	return record, nil
}

// UpsertSource creates or replaces an asset's source record. Writing
// a record clears any tombstone: re-importing a removed asset
// restores its identity.
func (s *Store) UpsertSource(ctx context.Context, record *asset.SourceRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("fingerprint store: upsert source: %w", err)
	}
	defer s.pool.Put(conn)

	dependencies, err := codec.Marshal(record.Dependencies)
	if err != nil {
		return fmt.Errorf("fingerprint store: encoding dependencies: %w", err)
	}

	settings := record.Settings
	if settings == nil {
		settings = []byte{}
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO source_records
			(asset_id, source_path, kind, content_hash, settings, settings_hash,
			 dependencies, tombstoned, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			source_path = excluded.source_path,
			kind = excluded.kind,
			content_hash = excluded.content_hash,
			settings = excluded.settings,
			settings_hash = excluded.settings_hash,
			dependencies = excluded.dependencies,
			tombstoned = excluded.tombstoned,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.ID.String(),
				record.SourcePath,
				int(record.Kind),
				record.ContentHash[:],
				settings,
				record.SettingsHash[:],
				dependencies,
				boolToInt(record.Tombstoned),
				record.UpdatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("fingerprint store: upsert source %s: %w", record.ID, err)
	}
	return nil
}

// RecordBuildResult overwrites an asset's build record with the
// outcome of a completed build attempt.
func (s *Store) RecordBuildResult(ctx context.Context, record *asset.BuildRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("fingerprint store: record build: %w", err)
	}
	defer s.pool.Put(conn)

	dependencyOutputs, err := codec.Marshal(record.DependencyOutputs)
	if err != nil {
		return fmt.Errorf("fingerprint store: encoding dependency outputs: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO build_records
			(asset_id, input_fingerprint, output_location, output_hash, status,
			 last_error, dependency_outputs, built_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			input_fingerprint = excluded.input_fingerprint,
			output_location = excluded.output_location,
			output_hash = excluded.output_hash,
			status = excluded.status,
			last_error = excluded.last_error,
			dependency_outputs = excluded.dependency_outputs,
			built_at = excluded.built_at,
			duration_ns = excluded.duration_ns`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.ID.String(),
				record.InputFingerprint[:],
				record.OutputLocation,
				record.OutputHash[:],
				record.Status.String(),
				record.LastError,
				dependencyOutputs,
				record.BuiltAt.UnixNano(),
				int64(record.Duration),
			},
		})
	if err != nil {
		return fmt.Errorf("fingerprint store: record build %s: %w", record.ID, err)
	}
	return nil
}

// Tombstone marks an asset as explicitly removed. The records are
// kept: identity and build history survive an accidental delete and
// re-import.
func (s *Store) Tombstone(ctx context.Context, id asset.ID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("fingerprint store: tombstone: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE source_records SET tombstoned = 1 WHERE asset_id = ?`,
		&sqlitex.ExecOptions{Args: []any{id.String()}})
	if err != nil {
		return fmt.Errorf("fingerprint store: tombstone %s: %w", id, err)
	}
	return nil
}

// Exists reports whether the asset has a live (non-tombstoned)
// source record. The scheduler checks this before committing a build
// result so a deletion mid-build discards the in-flight output.
func (s *Store) Exists(ctx context.Context, id asset.ID) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("fingerprint store: exists: %w", err)
	}
	defer s.pool.Put(conn)

	exists := false
	err = sqlitex.Execute(conn, `
		SELECT 1 FROM source_records WHERE asset_id = ? AND tombstoned = 0`,
		&sqlitex.ExecOptions{
			Args:       []any{id.String()},
			ResultFunc: func(*sqlite.Stmt) error { exists = true; return nil },
		})
	if err != nil {
		return false, fmt.Errorf("fingerprint store: exists %s: %w", id, err)
	}
	return exists, nil
}

// ListSources returns all live source records. Used to rebuild the
// dependency graph and re-evaluate staleness at startup.
func (s *Store) ListSources(ctx context.Context) ([]asset.SourceRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: list sources: %w", err)
	}
	defer s.pool.Put(conn)

	var records []asset.SourceRecord
	err = sqlitex.Execute(conn, `
		SELECT asset_id, source_path, kind, content_hash, settings, settings_hash,
		       dependencies, tombstoned, updated_at
		FROM source_records WHERE tombstoned = 0 ORDER BY source_path`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := scanSource(stmt)
				if err != nil {
					return err
				}
				records = append(records, *decoded)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: list sources: %w", err)
	}
	return records, nil
}

// ListDirty returns the ids of live assets whose persisted build
// record is missing or not fresh. This is the coarse restart-time
// dirty set; the staleness detector layers fingerprint comparison on
// top for assets that do have a fresh record.
func (s *Store) ListDirty(ctx context.Context) ([]asset.ID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: list dirty: %w", err)
	}
	defer s.pool.Put(conn)

	var ids []asset.ID
	err = sqlitex.Execute(conn, `
		SELECT s.asset_id FROM source_records s
		LEFT JOIN build_records b ON b.asset_id = s.asset_id
		WHERE s.tombstoned = 0 AND (b.asset_id IS NULL OR b.status != 'fresh')
		ORDER BY s.source_path`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id, err := asset.ParseID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				ids = append(ids, id)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: list dirty: %w", err)
	}
	return ids, nil
}

func getSource(conn *sqlite.Conn, id asset.ID) (*asset.SourceRecord, error) {
	var record *asset.SourceRecord
	err := sqlitex.Execute(conn, `
		SELECT asset_id, source_path, kind, content_hash, settings, settings_hash,
		       dependencies, tombstoned, updated_at
		FROM source_records WHERE asset_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := scanSource(stmt)
				if err != nil {
					return err
				}
				record = decoded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: reading source %s: %w", id, err)
	}
	return record, nil
}

func getBuild(conn *sqlite.Conn, id asset.ID) (*asset.BuildRecord, error) {
	var record *asset.BuildRecord
	err := sqlitex.Execute(conn, `
		SELECT asset_id, input_fingerprint, output_location, output_hash, status,
		       last_error, dependency_outputs, built_at, duration_ns
		FROM build_records WHERE asset_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := scanBuild(stmt)
				if err != nil {
					return err
				}
				record = decoded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store: reading build %s: %w", id, err)
	}
	return record, nil
}

func scanSource(stmt *sqlite.Stmt) (*asset.SourceRecord, error) {
	id, err := asset.ParseID(stmt.ColumnText(0))
	if err != nil {
		return nil, err
	}

	record := &asset.SourceRecord{
		ID:         id,
		SourcePath: stmt.ColumnText(1),
		Kind:       bf.Kind(stmt.ColumnInt64(2)),
		Tombstoned: stmt.ColumnInt64(7) != 0,
		UpdatedAt:  time.Unix(0, stmt.ColumnInt64(8)),
	}

	if err := columnHash(stmt, 3, &record.ContentHash); err != nil {
		return nil, err
	}
	record.Settings = columnBlob(stmt, 4)
	if err := columnHash(stmt, 5, &record.SettingsHash); err != nil {
		return nil, err
	}
	if err := codec.Unmarshal(columnBlob(stmt, 6), &record.Dependencies); err != nil {
		return nil, fmt.Errorf("decoding dependencies of %s: %w", id, err)
	}
	return record, nil
}

func scanBuild(stmt *sqlite.Stmt) (*asset.BuildRecord, error) {
	id, err := asset.ParseID(stmt.ColumnText(0))
	if err != nil {
		return nil, err
	}

	status, err := asset.ParseState(stmt.ColumnText(4))
	if err != nil {
		return nil, fmt.Errorf("build record %s: %w", id, err)
	}

	record := &asset.BuildRecord{
		ID:             id,
		OutputLocation: stmt.ColumnText(2),
		Status:         status,
		LastError:      stmt.ColumnText(5),
		BuiltAt:        time.Unix(0, stmt.ColumnInt64(7)),
		Duration:       time.Duration(stmt.ColumnInt64(8)),
	}

	if err := columnHash(stmt, 1, &record.InputFingerprint); err != nil {
		return nil, err
	}
	if err := columnHash(stmt, 3, &record.OutputHash); err != nil {
		return nil, err
	}
	if err := codec.Unmarshal(columnBlob(stmt, 6), &record.DependencyOutputs); err != nil {
		return nil, fmt.Errorf("decoding dependency outputs of %s: %w", id, err)
	}
	return record, nil
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	blob := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, blob)
	return blob
}

func columnHash(stmt *sqlite.Stmt, col int, out *assethash.Hash) error {
	if stmt.ColumnLen(col) != len(out) {
		return fmt.Errorf("hash column %d is %d bytes, want %d", col, stmt.ColumnLen(col), len(out))
	}
	stmt.ColumnBytes(col, out[:])
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
