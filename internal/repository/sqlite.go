package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	username TEXT NOT NULL,
	name     TEXT NOT NULL,
	PRIMARY KEY (username, name)
);
CREATE TABLE IF NOT EXISTS resources (
	username  TEXT NOT NULL,
	project   TEXT NOT NULL,
	path      TEXT NOT NULL,
	content   TEXT NOT NULL,
	type      TEXT NOT NULL,
	hash      TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (username, project, path)
);
CREATE TABLE IF NOT EXISTS tombstones (
	username  TEXT NOT NULL,
	project   TEXT NOT NULL,
	path      TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (username, project, path)
);
CREATE TABLE IF NOT EXISTS metadata (
	username  TEXT NOT NULL,
	project   TEXT NOT NULL,
	path      TEXT NOT NULL,
	meta_type TEXT NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (username, project, path, meta_type)
);
`

// SQLiteStore is the durable ResourceStore, backed by an embedded SQLite
// database. Staleness checks and writes run inside one transaction so a
// concurrent writer cannot slip between check and write.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open resource database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, username, project string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO projects (username, name) VALUES (?, ?)`, username, project)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrProjectExists
	}
	return nil
}

func (s *SQLiteStore) HasProject(ctx context.Context, username, project string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM projects WHERE username = ? AND name = ?`, username, project).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) Projects(ctx context.Context, username string) ([]types.ProjectInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM projects WHERE username = ? ORDER BY name`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []types.ProjectInfo
	for rows.Next() {
		var p types.ProjectInfo
		if err := rows.Scan(&p.Name); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) Project(ctx context.Context, username, project string, includeDeleted bool) ([]types.ResourceInfo, []types.DeletedInfo, error) {
	exists, err := s.HasProject(ctx, username, project)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, interfaces.ErrProjectNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, type, timestamp, hash FROM resources
		 WHERE username = ? AND project = ? ORDER BY path`, username, project)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	files := []types.ResourceInfo{}
	for rows.Next() {
		var f types.ResourceInfo
		if err := rows.Scan(&f.Path, &f.Type, &f.Timestamp, &f.Hash); err != nil {
			return nil, nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var deleted []types.DeletedInfo
	if includeDeleted {
		drows, err := s.db.QueryContext(ctx,
			`SELECT path, timestamp FROM tombstones
			 WHERE username = ? AND project = ? ORDER BY path`, username, project)
		if err != nil {
			return nil, nil, err
		}
		defer drows.Close()
		deleted = []types.DeletedInfo{}
		for drows.Next() {
			var d types.DeletedInfo
			if err := drows.Scan(&d.Path, &d.Timestamp); err != nil {
				return nil, nil, err
			}
			deleted = append(deleted, d)
		}
		if err := drows.Err(); err != nil {
			return nil, nil, err
		}
	}
	return files, deleted, nil
}

func (s *SQLiteStore) CreateResource(ctx context.Context, username, project, path, content, hash string, timestamp int64, resourceType string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := projectExistsTx(ctx, tx, username, project); err != nil {
			return err
		}
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM resources WHERE username = ? AND project = ? AND path = ?`,
			username, project, path).Scan(&one)
		if err == nil {
			return interfaces.ErrResourceExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resources (username, project, path, content, type, hash, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			username, project, path, content, resourceType, hash, timestamp); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM tombstones WHERE username = ? AND project = ? AND path = ?`,
			username, project, path)
		return err
	})
}

func (s *SQLiteStore) UpdateResource(ctx context.Context, username, project, path, content, hash string, timestamp int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedTimestampTx(ctx, tx, username, project, path)
		if err != nil {
			return err
		}
		if timestamp <= stored {
			return interfaces.ErrStaleWrite
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE resources SET content = ?, hash = ?, timestamp = ?
			 WHERE username = ? AND project = ? AND path = ?`,
			content, hash, timestamp, username, project, path)
		return err
	})
}

func (s *SQLiteStore) DeleteResource(ctx context.Context, username, project, path string, timestamp int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := storedTimestampTx(ctx, tx, username, project, path)
		if err != nil {
			return err
		}
		if timestamp <= stored {
			return interfaces.ErrStaleWrite
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM resources WHERE username = ? AND project = ? AND path = ?`,
			username, project, path); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tombstones (username, project, path, timestamp)
			 VALUES (?, ?, ?, ?)`, username, project, path, timestamp)
		return err
	})
}

func (s *SQLiteStore) HasResource(ctx context.Context, username, project, path string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM resources WHERE username = ? AND project = ? AND path = ?`,
		username, project, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) Resource(ctx context.Context, username, project, path string, timestamp *int64, hash *string) (*types.Resource, error) {
	if err := s.requireProject(ctx, username, project); err != nil {
		return nil, err
	}
	var res types.Resource
	err := s.db.QueryRowContext(ctx,
		`SELECT content, type, hash, timestamp FROM resources
		 WHERE username = ? AND project = ? AND path = ?`,
		username, project, path).Scan(&res.Content, &res.Type, &res.Hash, &res.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	if timestamp != nil && *timestamp != res.Timestamp {
		return nil, interfaces.ErrResourceNotFound
	}
	if hash != nil && *hash != res.Hash {
		return nil, interfaces.ErrResourceNotFound
	}
	return &res, nil
}

func (s *SQLiteStore) ResourceInfo(ctx context.Context, username, project, path, resourceType string, timestamp int64, hash string) (*types.SyncStatus, error) {
	if err := s.requireProject(ctx, username, project); err != nil {
		return nil, err
	}
	status := &types.SyncStatus{}

	var storedType string
	var storedTS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT type, timestamp FROM resources WHERE username = ? AND project = ? AND path = ?`,
		username, project, path).Scan(&storedType, &storedTS)
	switch {
	case err == nil:
		status.Exists = true
		status.NeedsUpdate = storedType != resourceType || storedTS < timestamp
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, err
	}

	var tombstone int64
	err = s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM tombstones WHERE username = ? AND project = ? AND path = ?`,
		username, project, path).Scan(&tombstone)
	switch {
	case err == nil:
		status.Deleted = tombstone > timestamp
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, err
	}
	return status, nil
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, username, project, path, metaType string, metadata types.Payload) error {
	exists, err := s.HasResource(ctx, username, project, path)
	if err != nil {
		return err
	}
	if !exists {
		return interfaces.ErrResourceNotFound
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (username, project, path, meta_type, data)
		 VALUES (?, ?, ?, ?, ?)`, username, project, path, metaType, string(data))
	return err
}

func (s *SQLiteStore) Metadata(ctx context.Context, username, project, path, metaType string) (types.Payload, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM metadata WHERE username = ? AND project = ? AND path = ? AND meta_type = ?`,
		username, project, path, metaType).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrMetadataNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta types.Payload
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// checkOpen turns use-after-Close into the sentinel instead of a raw
// driver error. Guarded at the query entry points; methods built on
// HasProject, HasResource or inTx inherit the check.
func (s *SQLiteStore) checkOpen() error {
	if s.closed.Load() {
		return interfaces.ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) requireProject(ctx context.Context, username, project string) error {
	exists, err := s.HasProject(ctx, username, project)
	if err != nil {
		return err
	}
	if !exists {
		return interfaces.ErrProjectNotFound
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func projectExistsTx(ctx context.Context, tx *sql.Tx, username, project string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM projects WHERE username = ? AND name = ?`, username, project).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrProjectNotFound
	}
	return err
}

func storedTimestampTx(ctx context.Context, tx *sql.Tx, username, project, path string) (int64, error) {
	var ts int64
	err := tx.QueryRowContext(ctx,
		`SELECT timestamp FROM resources WHERE username = ? AND project = ? AND path = ?`,
		username, project, path).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, interfaces.ErrResourceNotFound
	}
	return ts, err
}
