package wire

import (
	"time"

	"github.com/sl224/casparianflow-sub011/internal/registry"
	"github.com/sl224/casparianflow-sub011/internal/schema"
	"github.com/sl224/casparianflow-sub011/internal/sink"
)

// ManifestView carries an executable plugin manifest to a worker. The full
// source text travels with it; workers materialize it locally per job.
type ManifestView struct {
	Plugin       string    `json:"plugin"`
	Version      int       `json:"version"`
	Source       string    `json:"source"`
	SourceHash   string    `json:"source_hash"`
	EnvSignature string    `json:"env_signature"`
	ArtifactHash string    `json:"artifact_hash,omitempty"`
	DeployedAt   time.Time `json:"deployed_at"`
}

// SinkView carries one (plugin, output) routing rule to a worker.
type SinkView struct {
	Plugin    string         `json:"plugin"`
	Output    string         `json:"output"`
	URI       string         `json:"uri"`
	WriteMode string         `json:"write_mode"`
	Schema    *schema.Schema `json:"schema,omitempty"`
}

// ViewManifest converts a registry manifest to its wire projection.
func ViewManifest(m *registry.Manifest) ManifestView {
	return ManifestView{
		Plugin:       m.Plugin,
		Version:      m.Version,
		Source:       m.Source,
		SourceHash:   m.SourceHash,
		EnvSignature: m.EnvSignature,
		ArtifactHash: m.ArtifactHash,
		DeployedAt:   m.DeployedAt,
	}
}

// ViewSink converts a sink config to its wire projection.
func ViewSink(c sink.Config) SinkView {
	return SinkView{
		Plugin:    c.Plugin,
		Output:    c.Output,
		URI:       c.URI.String(),
		WriteMode: c.WriteMode,
		Schema:    c.Schema,
	}
}

// SinkConfig converts a wire projection back to a sink config.
func (v SinkView) SinkConfig() (sink.Config, error) {
	uri, err := sink.ParseURI(v.URI)
	if err != nil {
		return sink.Config{}, err
	}
	return sink.Config{
		Plugin:    v.Plugin,
		Output:    v.Output,
		URI:       uri,
		WriteMode: v.WriteMode,
		Schema:    v.Schema,
	}, nil
}
