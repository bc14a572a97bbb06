package catalog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// FileVersion binds a file location to a content hash at an observed point in
// time. Identical content at different locations shares one hash-registry row.
type FileVersion struct {
	ID          string
	LocationID  string
	Path        string
	ContentHash string
	Size        int64
	ModifiedAt  time.Time
	ObservedAt  time.Time
}

var ErrVersionNotFound = errors.New("file version not found")

// Catalog is the content-addressed record of what was seen where and when.
// The discovery collaborator writes observations; job enqueueing reads them.
type Catalog struct {
	db *sql.DB
}

func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// HashFile streams a file through BLAKE3 and returns the hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hashing: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RecordObservation registers one sighting of content at a path. The content
// hash row is deduplicated, and the location's current-version pointer only
// advances: an observation with an older modification time than the current
// version records a version row but leaves the pointer alone.
func (c *Catalog) RecordObservation(ctx context.Context, path, contentHash string, size int64, modifiedAt time.Time) (*FileVersion, error) {
	if path == "" {
		return nil, fmt.Errorf("path is empty")
	}
	if contentHash == "" {
		return nil, fmt.Errorf("content hash is empty")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
INSERT INTO content_hashes(hash, size, first_seen)
VALUES(?, ?, ?)
ON CONFLICT(hash) DO NOTHING;
`, contentHash, size, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("upsert content hash: %w", err)
	}

	var locationID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM file_locations WHERE path = ?;", path).Scan(&locationID)
	if errors.Is(err, sql.ErrNoRows) {
		locationID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO file_locations(id, path) VALUES(?, ?);
`, locationID, path); err != nil {
			return nil, fmt.Errorf("insert file location: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load file location: %w", err)
	}

	version := &FileVersion{
		ID:          uuid.NewString(),
		LocationID:  locationID,
		Path:        path,
		ContentHash: contentHash,
		Size:        size,
		ModifiedAt:  modifiedAt.UTC(),
		ObservedAt:  now,
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO file_versions(id, location_id, content_hash, size, modified_at, observed_at)
VALUES(?, ?, ?, ?, ?, ?);
`, version.ID, locationID, contentHash, size,
		version.ModifiedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert file version: %w", err)
	}

	// Forward-only pointer advance.
	_, err = tx.ExecContext(ctx, `
UPDATE file_locations
SET current_version = ?
WHERE id = ?
  AND (current_version IS NULL
       OR ? >= (SELECT modified_at FROM file_versions WHERE id = file_locations.current_version));
`, version.ID, locationID, version.ModifiedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("advance current version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return version, nil
}

// CurrentVersion returns the version the location pointer currently names.
func (c *Catalog) CurrentVersion(ctx context.Context, path string) (*FileVersion, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT v.id, v.location_id, l.path, v.content_hash, v.size, v.modified_at, v.observed_at
FROM file_locations l
JOIN file_versions v ON v.id = l.current_version
WHERE l.path = ?;
`, path)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}
	return v, nil
}

// GetVersion loads a version row by id.
func (c *Catalog) GetVersion(ctx context.Context, id string) (*FileVersion, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT v.id, v.location_id, l.path, v.content_hash, v.size, v.modified_at, v.observed_at
FROM file_versions v
JOIN file_locations l ON l.id = v.location_id
WHERE v.id = ?;
`, id)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func scanVersion(r interface{ Scan(dest ...any) error }) (*FileVersion, error) {
	var (
		v         FileVersion
		modifiedS string
		observedS string
	)
	if err := r.Scan(&v.ID, &v.LocationID, &v.Path, &v.ContentHash, &v.Size, &modifiedS, &observedS); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, modifiedS); err == nil {
		v.ModifiedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, observedS); err == nil {
		v.ObservedAt = t
	}
	return &v, nil
}
