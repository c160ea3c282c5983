// Package snapshot persists the memory tier across restarts and runs periodic
// maintenance jobs on a cron schedule.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"cache-manager/internal/common/errors"
	"cache-manager/internal/stores/memory"
)

const formatVersion = 1

// Dumper exports a snapshot
type Dumper interface {
	Dump() memory.Snapshot
}

// Loader replaces its contents with a snapshot
type Loader interface {
	Load(memory.Snapshot) error
}

type file struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Entries memory.Snapshot `json:"entries"`
}

// Save writes the snapshot of store to path. The file is replaced atomically
// so a crash mid-write never leaves a truncated snapshot behind.
func Save(path string, store Dumper) (int, error) {
	entries := store.Dump()

	data, err := json.Marshal(file{Version: formatVersion, SavedAt: time.Now().UTC(), Entries: entries})
	if err != nil {
		return 0, errors.SerializationError("failed to encode snapshot", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.InternalError("failed to create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, errors.InternalError("failed to create snapshot file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, errors.InternalError("failed to write snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, errors.InternalError("failed to sync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.InternalError("failed to close snapshot", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.InternalError("failed to replace snapshot", err)
	}

	return len(entries), nil
}

// Restore loads the snapshot at path into store. A missing file is not an
// error; found reports whether one was loaded.
func Restore(path string, store Loader) (entries int, found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.InternalError("failed to read snapshot", err)
	}

	var snap file
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, false, errors.SerializationError("failed to decode snapshot", err).WithContext("path", path)
	}
	if snap.Version != formatVersion {
		return 0, false, errors.ValidationError("unsupported snapshot version").WithContext("version", snap.Version)
	}

	if err := store.Load(snap.Entries); err != nil {
		return 0, false, err
	}
	return len(snap.Entries), true, nil
}
