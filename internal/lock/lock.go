// Package lock keeps two backup runs from writing into the same destination directory.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the lock file created in the destination directory.
const FileName = ".lndbackup.lock"

// ErrLocked means another live process holds the lock.
var ErrLocked = errors.New("destination is locked by another run")

// Entry is the content of the lock file.
type Entry struct {
	PID       int       `yaml:"pid"`
	RunID     string    `yaml:"run_id"`
	Source    string    `yaml:"source"`
	StartedAt time.Time `yaml:"started_at"`
}

// Path returns the lock file path for a destination directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// incompleteAge is how long an empty lock file is taken to be mid-write by its creator.
const incompleteAge = time.Minute

// maxAttempts bounds the create / reclaim loop.
const maxAttempts = 3

// Acquire takes the lock in dir. The lock file is created exclusively, so of two runs starting
// together only one succeeds. A lock left behind by a dead process is taken over.
// The returned release func removes the lock file and may be called more than once.
func Acquire(dir, runID, source string) (func() error, error) {
	path := Path(dir)

	data, err := yaml.Marshal(&Entry{
		PID:       os.Getpid(),
		RunID:     runID,
		Source:    source,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		created, err := create(path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
		}
		if created {
			return release(path), nil
		}

		stale, err := checkHolder(path)
		if err != nil {
			return nil, err
		}
		if stale {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", path, err)
			}
		}
	}

	return nil, fmt.Errorf("%w: lock file %s keeps changing", ErrLocked, path)
}

// create writes data to a new lock file. It reports false when the file already exists.
func create(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // lock content is not secret
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}

	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return false, err
	}
	return true, nil
}

// checkHolder inspects an existing lock file. It returns ErrLocked while the holder is alive
// and reports whether the lock may be reclaimed.
func checkHolder(path string) (bool, error) {
	existing, err := read(path)
	if err != nil {
		return false, fmt.Errorf("failed to read lock file %s: %w", path, err)
	}

	if existing == nil {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil // released in the meantime
		}
		if err != nil {
			return false, fmt.Errorf("failed to read lock file %s: %w", path, err)
		}
		if time.Since(info.ModTime()) < incompleteAge {
			return false, fmt.Errorf("%w: lock file %s is being written", ErrLocked, path)
		}
		return true, nil
	}

	if existing.PID > 0 && processAlive(existing.PID) {
		return false, fmt.Errorf("%w: pid %d, run %s, started %s",
			ErrLocked, existing.PID, existing.RunID, existing.StartedAt.Format(time.RFC3339))
	}
	return true, nil
}

func release(path string) func() error {
	return func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
}

func read(path string) (*Entry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // fixed name inside the destination directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
