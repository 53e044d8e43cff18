// Package snapshot reads and writes the per-run snapshot file: one JSON
// line per scripted object, preceded by a header line. The snapshot is the
// baseline a later delta run classifies against.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/semver"

	"github.com/cobaltdata/schemaport/internal/catalog"
)

// FormatVersion is the snapshot format written by this build. Readers accept
// any version with the same major.
const FormatVersion = "v1.0.0"

// Header is the first line of a snapshot file.
type Header struct {
	FormatVersion string    `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
	Engine        string    `json:"engine"`
	Grouping      string    `json:"grouping"`

	// SecretObjects inventories objects whose replay needs an externally
	// supplied secret (principal passwords, remote auth tokens). Recorded
	// so operators know what to stage before an apply.
	SecretObjects []string `json:"secret_objects,omitempty"`
}

// Record is one scripted object: its identity, where its artifact went, and
// the modification instant the engine reported at generation time.
type Record struct {
	Type       string     `json:"type"`
	Schema     string     `json:"schema,omitempty"`
	Name       string     `json:"name"`
	Artifact   string     `json:"artifact"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Identity returns the record's catalog identity.
func (r Record) Identity() catalog.Identity {
	return catalog.Identity{Type: catalog.Type(r.Type), Schema: r.Schema, Name: r.Name}
}

// Snapshot is one run's parsed snapshot.
type Snapshot struct {
	Header  Header
	Records []Record

	byKey map[string]int
}

// New creates an empty snapshot with a populated header.
func New(engine string, grouping catalog.GroupingMode) *Snapshot {
	return &Snapshot{
		Header: Header{
			FormatVersion: FormatVersion,
			CreatedAt:     time.Now().UTC(),
			Engine:        engine,
			Grouping:      string(grouping),
		},
	}
}

// Add appends a record for one object.
func (s *Snapshot) Add(obj catalog.Object, artifact string) {
	rec := Record{
		Type:     string(obj.Type),
		Schema:   obj.Schema,
		Name:     obj.Name,
		Artifact: artifact,
	}
	if !obj.ModifiedAt.IsZero() {
		t := obj.ModifiedAt
		rec.ModifiedAt = &t
	}
	s.Records = append(s.Records, rec)
	s.byKey = nil
}

// Lookup finds the record for an identity.
func (s *Snapshot) Lookup(id catalog.Identity) (Record, bool) {
	if s.byKey == nil {
		s.byKey = make(map[string]int, len(s.Records))
		for i, r := range s.Records {
			s.byKey[r.Identity().Key()] = i
		}
	}
	i, ok := s.byKey[id.Key()]
	if !ok {
		return Record{}, false
	}
	return s.Records[i], true
}

// Grouping returns the grouping mode the snapshot's run used.
func (s *Snapshot) Grouping() catalog.GroupingMode {
	return catalog.GroupingMode(s.Header.Grouping)
}

// Write stores the snapshot at path atomically: header line, then one line
// per record, written to a temp file and renamed into place.
func Write(path string, s *Snapshot) error {
	if s.Header.FormatVersion == "" {
		s.Header.FormatVersion = FormatVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(s.Header); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	for _, rec := range s.Records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to write snapshot record %s: %w", rec.Identity(), err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp snapshot: %w", err)
	}
	return nil
}

// Read loads and validates a snapshot file.
func Read(path string) (*Snapshot, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)

	var header Header
	if err := dec.Decode(&header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("snapshot %s is empty", path)
		}
		return nil, fmt.Errorf("invalid snapshot header: %w", err)
	}
	if err := checkVersion(header.FormatVersion); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}

	s := &Snapshot{Header: header}
	line := 1
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid snapshot record at line %d: %w", line+1, err)
		}
		line++
		if rec.Name == "" || rec.Type == "" {
			return nil, fmt.Errorf("snapshot record at line %d has no identity", line)
		}
		s.Records = append(s.Records, rec)
	}

	return s, nil
}

// checkVersion accepts any format version sharing this build's major.
func checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("bad format version %q", v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("format version %s is incompatible with %s", v, FormatVersion)
	}
	return nil
}
