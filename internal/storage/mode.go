// ABOUTME: Storage modes and on-disk path resolution for store handles
// ABOUTME: Resolves <data dir>/<name>.sqlite and the WAL-mode auxiliary files

package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileExt is the extension given to store files whose path is derived from the store name.
const FileExt = ".sqlite"

// Suffixes of the files SQLite keeps next to the primary file in WAL mode.
const (
	SHMSuffix = "-shm"
	WALSuffix = "-wal"
)

// Mode selects where a handle keeps its data.
type Mode struct {
	onDisk bool
	path   string
}

// InMemory returns a mode whose data lives only as long as the handle.
func InMemory() Mode {
	return Mode{}
}

// OnDisk returns a file-backed mode. An empty path means the file is placed
// in the data directory and named after the store.
func OnDisk(path string) Mode {
	return Mode{onDisk: true, path: path}
}

// IsInMemory reports whether the mode keeps no files.
func (m Mode) IsInMemory() bool { return !m.onDisk }

// Path returns the explicit path given to OnDisk, if any.
func (m Mode) Path() string { return m.path }

func (m Mode) String() string {
	if !m.onDisk {
		return "memory"
	}
	if m.path == "" {
		return "sqlite"
	}
	return "sqlite:" + m.path
}

// DefaultDataDir returns the per-application data directory.
// Priority: XDG_DATA_HOME/<app> > ~/.local/share/<app>
func DefaultDataDir(app string) (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, app), nil
}

// ResolvePath returns the primary file for an on-disk store and creates its
// parent directories. dataDir is used when the mode has no explicit path; if
// it is empty too, DefaultDataDir(app) is used.
func ResolvePath(m Mode, name, dataDir, app string) (string, error) {
	if !m.onDisk {
		return "", nil
	}

	path := m.path
	if path == "" {
		if dataDir == "" {
			dir, err := DefaultDataDir(app)
			if err != nil {
				return "", err
			}
			dataDir = dir
		}
		path = filepath.Join(dataDir, name+FileExt)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating database directory: %w", err)
	}
	return path, nil
}

// ArtifactPaths lists the primary file followed by its shared-memory and
// write-ahead-log companions.
func ArtifactPaths(primary string) []string {
	if primary == "" {
		return nil
	}
	return []string{primary, primary + SHMSuffix, primary + WALSuffix}
}
