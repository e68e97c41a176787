// Package storage provides the mountable volume recordings are written to.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrNotMounted is returned by Path on an unmounted volume.
	ErrNotMounted = errors.New("volume not mounted")
	// ErrMountFailed wraps any failure to make the volume usable.
	ErrMountFailed = errors.New("mount failed")
)

// Volume is a mountable directory-like store.
type Volume interface {
	// Mount makes the volume usable. Mounting a mounted volume is a no-op.
	Mount() error
	// Unmount releases the volume. Unmounting an unmounted volume is a no-op.
	Unmount() error
	// Path resolves a file name on the mounted volume.
	Path(name string) (string, error)
	// Mounted reports whether the volume is mounted.
	Mounted() bool
}

// LocalVolume is a directory on the host filesystem.
type LocalVolume struct {
	root string
	// create makes a missing root instead of failing, like formatting an
	// unreadable card.
	create bool

	mu      sync.Mutex
	mounted bool
}

// NewLocalVolume creates a volume rooted at root.
func NewLocalVolume(root string, createIfMissing bool) *LocalVolume {
	return &LocalVolume{root: root, create: createIfMissing}
}

// Mount checks that the root is a writable directory.
func (v *LocalVolume) Mount() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mounted {
		return nil
	}

	st, err := os.Stat(v.root)
	switch {
	case err == nil && !st.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrMountFailed, v.root)
	case errors.Is(err, os.ErrNotExist) && v.create:
		if err := os.MkdirAll(v.root, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrMountFailed, err)
		}
	case err != nil:
		return fmt.Errorf("%w: %v", ErrMountFailed, err)
	}

	probe, err := os.CreateTemp(v.root, ".mount-*")
	if err != nil {
		return fmt.Errorf("%w: not writable: %v", ErrMountFailed, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	v.mounted = true
	return nil
}

// Unmount marks the volume unmounted.
func (v *LocalVolume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounted = false
	return nil
}

// Path implements Volume.
func (v *LocalVolume) Path(name string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return "", ErrNotMounted
	}
	return filepath.Join(v.root, name), nil
}

// Mounted implements Volume.
func (v *LocalVolume) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// Root returns the volume root directory.
func (v *LocalVolume) Root() string {
	return v.root
}
