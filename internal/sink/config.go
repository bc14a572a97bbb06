package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sl224/casparianflow-sub011/internal/schema"
)

// WildcardOutput is the reserved output name for a plugin's default sink row.
// At most one row per plugin may use it, enforced by the (plugin, output)
// primary key.
const WildcardOutput = "*"

// Config is one (plugin, output) routing rule. Rows are written by
// configuration management and read-only to the job/worker components.
type Config struct {
	Plugin    string
	Output    string
	URI       URI
	WriteMode string
	Schema    *schema.Schema
}

// Store reads and writes sink_configs rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put inserts or replaces a routing rule. Uniqueness of (plugin, output) is
// enforced here, at configuration time, so routing stays deterministic.
func (s *Store) Put(ctx context.Context, c Config) error {
	if c.Plugin == "" {
		return fmt.Errorf("plugin is empty")
	}
	if c.Output == "" {
		return fmt.Errorf("output is empty")
	}
	if c.WriteMode == "" {
		c.WriteMode = "append"
	}

	var schemaJSON any
	if c.Schema != nil {
		data, err := json.Marshal(c.Schema)
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		schemaJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sink_configs(plugin, output, uri, kind, write_mode, row_schema)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(plugin, output) DO UPDATE SET
  uri = excluded.uri,
  kind = excluded.kind,
  write_mode = excluded.write_mode,
  row_schema = excluded.row_schema;
`, c.Plugin, c.Output, c.URI.String(), string(c.URI.Kind), c.WriteMode, schemaJSON)
	if err != nil {
		return fmt.Errorf("put sink config: %w", err)
	}
	return nil
}

// ForPlugin loads every routing rule declared for a plugin.
func (s *Store) ForPlugin(ctx context.Context, plugin string) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT plugin, output, uri, write_mode, row_schema
FROM sink_configs
WHERE plugin = ?
ORDER BY output ASC;
`, plugin)
	if err != nil {
		return nil, fmt.Errorf("load sink configs: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		var (
			c          Config
			uriS       string
			schemaJSON sql.NullString
		)
		if err := rows.Scan(&c.Plugin, &c.Output, &uriS, &c.WriteMode, &schemaJSON); err != nil {
			return nil, fmt.Errorf("scan sink config: %w", err)
		}
		c.URI, err = ParseURI(uriS)
		if err != nil {
			return nil, fmt.Errorf("sink config for (%s, %s): %w", c.Plugin, c.Output, err)
		}
		if schemaJSON.Valid && schemaJSON.String != "" {
			var sc schema.Schema
			if err := json.Unmarshal([]byte(schemaJSON.String), &sc); err != nil {
				return nil, fmt.Errorf("sink config for (%s, %s): decode schema: %w", c.Plugin, c.Output, err)
			}
			c.Schema = &sc
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
