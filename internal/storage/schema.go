// ABOUTME: Schema descriptor made of numbered SQL migrations
// ABOUTME: Parses NNNN_description.sql files from an fs.FS and validates ordering

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Migration is one step of a schema. Versions start at 1 and increase by one.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Schema describes the tables a store needs.
type Schema struct {
	Name       string
	Migrations []Migration
}

// NewSchema builds a schema from migrations given in order; versions are
// assigned from their position.
func NewSchema(name string, statements ...string) *Schema {
	s := &Schema{Name: name}
	for i, stmt := range statements {
		s.Migrations = append(s.Migrations, Migration{
			Version:     i + 1,
			Description: fmt.Sprintf("step %d", i+1),
			SQL:         stmt,
		})
	}
	return s
}

// LoadSchema parses every *.sql file in dir. File names must look like
// 0001_create_records.sql; the numeric prefix is the migration version.
func LoadSchema(name string, fsys fs.FS, dir string) (*Schema, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	s := &Schema{Name: name}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, desc, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		s.Migrations = append(s.Migrations, Migration{
			Version:     version,
			Description: desc,
			SQL:         string(data),
		})
	}

	sort.Slice(s.Migrations, func(i, j int) bool {
		return s.Migrations[i].Version < s.Migrations[j].Version
	})

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseMigrationName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, desc, _ := strings.Cut(base, "_")

	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("migration %s: version prefix %q is not a number", file, prefix)
	}
	return version, strings.ReplaceAll(desc, "_", " "), nil
}

// Validate checks that migrations are numbered 1..n without gaps and carry SQL.
func (s *Schema) Validate() error {
	if s == nil {
		return errors.New("schema is nil")
	}
	if len(s.Migrations) == 0 {
		return fmt.Errorf("schema %q has no migrations", s.Name)
	}

	for i, m := range s.Migrations {
		if m.Version != i+1 {
			return fmt.Errorf("schema %q: migration %d has version %d, want %d", s.Name, i, m.Version, i+1)
		}
		if strings.TrimSpace(m.SQL) == "" {
			return fmt.Errorf("schema %q: migration %d is empty", s.Name, m.Version)
		}
	}
	return nil
}

// Version is the version a store has once every migration is applied.
func (s *Schema) Version() int {
	if s == nil {
		return 0
	}
	return len(s.Migrations)
}
