package registry

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// ManifestStatus is a published plugin version's lifecycle state.
type ManifestStatus string

const (
	StatusPending  ManifestStatus = "pending"
	StatusActive   ManifestStatus = "active"
	StatusRejected ManifestStatus = "rejected"
)

// Manifest is one immutable (plugin, version) row. Versioning is append-only:
// redeploying a name creates a new row and old rows stay queryable for
// rollback and audit.
type Manifest struct {
	Plugin        string
	Version       int
	Source        string
	SourceHash    string
	EnvSignature  string
	ArtifactHash  string
	Status        ManifestStatus
	Signature     string
	Publisher     string
	ValidateError string
	DeployedAt    time.Time
}

var (
	// ErrDuplicateSource means the exact source text is already registered
	// under some (plugin, version); silent duplicate registration is refused.
	ErrDuplicateSource = errors.New("source hash already registered")
	// ErrNoActiveVersion means no version of the plugin is executable. Jobs
	// referencing the plugin fail deterministically instead of retrying.
	ErrNoActiveVersion = errors.New("no active plugin version")
	ErrNotFound        = errors.New("plugin manifest not found")
)

// Checker runs an isolated syntax/contract check on plugin source. The worker
// package provides a subprocess implementation; tests use fakes.
type Checker interface {
	Check(ctx context.Context, plugin string, source string) error
}

// PublishOptions carries the optional provenance fields of a publish.
type PublishOptions struct {
	EnvSignature string
	Signature    string
	Publisher    string
}

// Registry is the content-addressed store of plugin source and lifecycle
// status, backed by the control-plane database.
type Registry struct {
	db *sql.DB
}

func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// HashSource returns the hex BLAKE3 hash of plugin source text.
func HashSource(source string) string {
	sum := blake3.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Publish registers a new plugin version in the pending state. The source
// hash is the dedupe key: the same source under a different version (or a
// different name) is rejected with ErrDuplicateSource.
func (r *Registry) Publish(ctx context.Context, plugin string, version int, source string, opts PublishOptions) (*Manifest, error) {
	if plugin == "" {
		return nil, fmt.Errorf("plugin name is empty")
	}
	if version <= 0 {
		return nil, fmt.Errorf("version must be positive")
	}
	if source == "" {
		return nil, fmt.Errorf("source is empty")
	}

	hash := HashSource(source)

	var existingPlugin string
	var existingVersion int
	err := r.db.QueryRowContext(ctx, `
SELECT plugin, version FROM plugin_manifests WHERE source_hash = ?;
`, hash).Scan(&existingPlugin, &existingVersion)
	if err == nil {
		return nil, fmt.Errorf("%w: identical source already deployed as %s v%d",
			ErrDuplicateSource, existingPlugin, existingVersion)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check source hash: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO plugin_manifests(plugin, version, source, source_hash, env_signature, status, signature, publisher, deployed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, plugin, version, source, hash, opts.EnvSignature, StatusPending, opts.Signature, opts.Publisher,
		now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert manifest: %w", err)
	}

	return &Manifest{
		Plugin:       plugin,
		Version:      version,
		Source:       source,
		SourceHash:   hash,
		EnvSignature: opts.EnvSignature,
		Status:       StatusPending,
		Signature:    opts.Signature,
		Publisher:    opts.Publisher,
		DeployedAt:   now,
	}, nil
}

// Validate runs the contract check on a pending manifest and transitions it
// to active on success or rejected (with the error text retained) on failure.
func (r *Registry) Validate(ctx context.Context, plugin string, version int, checker Checker) error {
	m, err := r.GetVersion(ctx, plugin, version)
	if err != nil {
		return err
	}
	if m.Status != StatusPending {
		return fmt.Errorf("cannot validate %s v%d in status %q", plugin, version, m.Status)
	}

	checkErr := checker.Check(ctx, plugin, m.Source)
	artifactHash := HashSource(m.SourceHash + m.EnvSignature)

	if checkErr != nil {
		_, err := r.db.ExecContext(ctx, `
UPDATE plugin_manifests SET status = ?, validate_error = ? WHERE plugin = ? AND version = ?;
`, StatusRejected, checkErr.Error(), plugin, version)
		if err != nil {
			return fmt.Errorf("mark manifest rejected: %w", err)
		}
		return fmt.Errorf("plugin %s v%d failed validation: %w", plugin, version, checkErr)
	}

	_, err = r.db.ExecContext(ctx, `
UPDATE plugin_manifests SET status = ?, artifact_hash = ?, validate_error = NULL WHERE plugin = ? AND version = ?;
`, StatusActive, artifactHash, plugin, version)
	if err != nil {
		return fmt.Errorf("mark manifest active: %w", err)
	}
	return nil
}

// ResolveActive returns the most recently deployed active manifest for a
// plugin. If the plugin is unknown, or every version is pending/rejected,
// it fails with ErrNoActiveVersion so the caller can fail the job rather
// than retry forever.
func (r *Registry) ResolveActive(ctx context.Context, plugin string) (*Manifest, error) {
	row := r.db.QueryRowContext(ctx, manifestSelect+`
WHERE plugin = ? AND status = ?
ORDER BY version DESC
LIMIT 1;
`, plugin, StatusActive)

	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, plugin)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve active manifest: %w", err)
	}
	return m, nil
}

// GetVersion loads one exact (plugin, version) manifest.
func (r *Registry) GetVersion(ctx context.Context, plugin string, version int) (*Manifest, error) {
	row := r.db.QueryRowContext(ctx, manifestSelect+`
WHERE plugin = ? AND version = ?;
`, plugin, version)

	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s v%d", ErrNotFound, plugin, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return m, nil
}

// List returns every manifest across all plugins, grouped by plugin with the
// newest version first.
func (r *Registry) List(ctx context.Context) ([]*Manifest, error) {
	rows, err := r.db.QueryContext(ctx, manifestSelect+`
ORDER BY plugin ASC, version DESC;
`)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var out []*Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListVersions returns every version of a plugin, newest first, for audit and
// rollback inspection.
func (r *Registry) ListVersions(ctx context.Context, plugin string) ([]*Manifest, error) {
	rows, err := r.db.QueryContext(ctx, manifestSelect+`
WHERE plugin = ?
ORDER BY version DESC;
`, plugin)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var out []*Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const manifestSelect = `
SELECT plugin, version, source, source_hash, env_signature, artifact_hash, status,
       signature, publisher, validate_error, deployed_at
FROM plugin_manifests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(r rowScanner) (*Manifest, error) {
	var (
		m            Manifest
		artifactHash sql.NullString
		signature    sql.NullString
		publisher    sql.NullString
		validateErr  sql.NullString
		statusS      string
		deployedS    string
	)
	err := r.Scan(&m.Plugin, &m.Version, &m.Source, &m.SourceHash, &m.EnvSignature,
		&artifactHash, &statusS, &signature, &publisher, &validateErr, &deployedS)
	if err != nil {
		return nil, err
	}
	m.Status = ManifestStatus(statusS)
	if artifactHash.Valid {
		m.ArtifactHash = artifactHash.String
	}
	if signature.Valid {
		m.Signature = signature.String
	}
	if publisher.Valid {
		m.Publisher = publisher.String
	}
	if validateErr.Valid {
		m.ValidateError = validateErr.String
	}
	if t, err := time.Parse(time.RFC3339Nano, deployedS); err == nil {
		m.DeployedAt = t
	}
	return &m, nil
}
