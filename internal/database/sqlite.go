// Package database keeps the local history of builds in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Build statuses.
const (
	StatusStarted  = "started"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Build is one row of the build history.
type Build struct {
	ID             int64
	ApplicationUID string
	BuildID        string
	SnapshotID     string
	Version        string
	VersionURL     string
	Platform       string
	Status         string
	Error          string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	AssetCount     int
	UploadedCount  int
}

// BuildResult is what a finished or failed build records.
type BuildResult struct {
	Status        string
	Error         string
	BuildID       string
	SnapshotID    string
	Version       string
	VersionURL    string
	AssetCount    int
	UploadedCount int
	// Snapshot is the JSON snapshot descriptor; stored compressed.
	Snapshot []byte
}

// SQLiteDatabase stores build history in a SQLite file.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteDatabase opens the database at path, or ":memory:", and
// brings its schema up to date.
func NewSQLiteDatabase(path string, now func() time.Time) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &SQLiteDatabase{db: db, path: path, now: now}, nil
}

// OpenConnection opens a SQLite connection with the PRAGMAs zd relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// StartBuild records a build that has just started and returns its row id.
func (s *SQLiteDatabase) StartBuild(ctx context.Context, applicationUID, platform string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (application_uid, platform, status, started_at) VALUES (?, ?, ?, ?)`,
		applicationUID, platform, StatusStarted, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("creating build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating build: %w", err)
	}
	return id, nil
}

// FinishBuild stores the outcome of build id.
func (s *SQLiteDatabase) FinishBuild(ctx context.Context, id int64, result BuildResult) error {
	var blob []byte
	if len(result.Snapshot) > 0 {
		blob = compress(result.Snapshot)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE builds SET
			status = ?, error = ?, build_id = ?, snapshot_id = ?, version = ?, version_url = ?,
			asset_count = ?, uploaded_count = ?, snapshot = ?, snapshot_size = ?, finished_at = ?
		WHERE id = ?`,
		result.Status, result.Error, result.BuildID, result.SnapshotID, result.Version, result.VersionURL,
		result.AssetCount, result.UploadedCount, blob, len(result.Snapshot), s.now().UTC(),
		id)
	if err != nil {
		return fmt.Errorf("finishing build: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing build: no build with id %d", id)
	}
	return nil
}

const buildColumns = `id, application_uid, build_id, snapshot_id, version, version_url, platform,
	status, error, started_at, finished_at, asset_count, uploaded_count`

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	var b Build
	err := row.Scan(&b.ID, &b.ApplicationUID, &b.BuildID, &b.SnapshotID, &b.Version, &b.VersionURL,
		&b.Platform, &b.Status, &b.Error, &b.StartedAt, &b.FinishedAt, &b.AssetCount, &b.UploadedCount)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBuild returns the build with the given row id, or nil if there is none.
func (s *SQLiteDatabase) GetBuild(ctx context.Context, id int64) (*Build, error) {
	b, err := scanBuild(s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding build: %w", err)
	}
	return b, nil
}

// ListBuilds returns the most recent builds first. A limit of zero or
// less returns every build.
func (s *SQLiteDatabase) ListBuilds(ctx context.Context, limit int) ([]*Build, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+buildColumns+` FROM builds ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	return builds, nil
}

// BuildSnapshot returns the decompressed snapshot descriptor of build
// id, or nil if none was recorded.
func (s *SQLiteDatabase) BuildSnapshot(ctx context.Context, id int64) ([]byte, error) {
	var blob []byte
	var size int
	err := s.db.QueryRowContext(ctx, `SELECT snapshot, snapshot_size FROM builds WHERE id = ?`, id).Scan(&blob, &size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no build with id %d", id)
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	return decompress(blob, size)
}

// Path returns the database file path, or ":memory:".
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a complete copy of the database to destPath.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
