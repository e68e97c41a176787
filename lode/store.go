package lode

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/earshot/metrics"
)

// Backend names reported by Store.Backend.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Store persists completed recordings as whole objects.
// The underlying Lode store is created lazily from its factory on first use.
type Store struct {
	backend   string
	factory   lode.StoreFactory
	collector *metrics.Collector

	once     sync.Once
	store    lode.Store
	storeErr error
}

// NewStore wraps a Lode store factory. collector may be nil.
func NewStore(backend string, factory lode.StoreFactory, collector *metrics.Collector) *Store {
	return &Store{backend: backend, factory: factory, collector: collector}
}

// NewFSStore creates a filesystem-backed store rooted at root.
// The root directory is created if missing.
func NewFSStore(root string, collector *metrics.Collector) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrap(err, "init", root)
	}
	return NewStore(BackendFS, lode.NewFSFactory(root), collector), nil
}

// NewMemoryStore creates an in-memory store. All calls share one backing store.
func NewMemoryStore(collector *metrics.Collector) *Store {
	mem := lode.NewMemory()
	return NewStore(BackendMemory, func() (lode.Store, error) { return mem, nil }, collector)
}

// Backend returns the backend name (fs, s3, memory).
func (s *Store) Backend() string { return s.backend }

func (s *Store) get() (lode.Store, error) {
	s.once.Do(func() {
		s.store, s.storeErr = s.factory()
		s.storeErr = wrap(s.storeErr, "init", "")
	})
	return s.store, s.storeErr
}

// PutObject writes r to path, replacing any object already there.
func (s *Store) PutObject(ctx context.Context, path string, r io.Reader) error {
	err := s.put(ctx, path, r)
	if err != nil {
		s.collector.IncLodeWriteFailure()
		return err
	}
	s.collector.IncLodeWriteSuccess()
	return nil
}

func (s *Store) put(ctx context.Context, path string, r io.Reader) error {
	st, err := s.get()
	if err != nil {
		return err
	}
	exists, err := st.Exists(ctx, path)
	if err != nil {
		return wrap(err, "put", path)
	}
	if exists {
		if err := st.Delete(ctx, path); err != nil {
			return wrap(err, "put", path)
		}
	}
	return wrap(st.Put(ctx, path, r), "put", path)
}

// Get opens the object at path. The caller closes the reader.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	rc, err := st.Get(ctx, path)
	if err != nil {
		return nil, wrap(err, "get", path)
	}
	return rc, nil
}

// Exists reports whether an object exists at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	st, err := s.get()
	if err != nil {
		return false, err
	}
	ok, err := st.Exists(ctx, path)
	return ok, wrap(err, "get", path)
}

// List returns the object paths under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	st, err := s.get()
	if err != nil {
		return nil, err
	}
	paths, err := st.List(ctx, prefix)
	if err != nil {
		return nil, wrap(err, "list", prefix)
	}
	return paths, nil
}

// Delete removes the object at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	st, err := s.get()
	if err != nil {
		return err
	}
	return wrap(st.Delete(ctx, path), "delete", path)
}

// String describes the store for logs.
func (s *Store) String() string {
	return fmt.Sprintf("lode(%s)", s.backend)
}
