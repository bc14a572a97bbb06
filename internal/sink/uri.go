package sink

import (
	"fmt"
	"strings"
)

// Kind is a sink destination's storage flavor.
type Kind string

const (
	// KindColumnarFile writes one column-oriented file per job run into a
	// destination directory.
	KindColumnarFile Kind = "columnar-file"
	// KindEmbeddedDatabase writes into a SQLite file, one table per output,
	// upserting on row id.
	KindEmbeddedDatabase Kind = "embedded-database"
	// KindDelimitedText appends CSV rows to a single file.
	KindDelimitedText Kind = "delimited-text"
)

// URI is a parsed `<kind>://<destination>` sink address. The destination is a
// directory for columnar-file and a single file for the other kinds.
type URI struct {
	Kind        Kind
	Destination string
}

// ParseURI validates and splits a sink URI.
func ParseURI(raw string) (URI, error) {
	kindS, dest, ok := strings.Cut(raw, "://")
	if !ok {
		return URI{}, fmt.Errorf("invalid sink URI %q: missing '://'", raw)
	}
	if dest == "" {
		return URI{}, fmt.Errorf("invalid sink URI %q: empty destination", raw)
	}

	kind := Kind(kindS)
	switch kind {
	case KindColumnarFile, KindEmbeddedDatabase, KindDelimitedText:
	default:
		return URI{}, fmt.Errorf("invalid sink URI %q: unknown kind %q", raw, kindS)
	}

	return URI{Kind: kind, Destination: dest}, nil
}

func (u URI) String() string {
	return string(u.Kind) + "://" + u.Destination
}
