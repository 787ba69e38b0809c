package twwplus

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Storage is the durable key/value store drafts are persisted in. Keys are
// conversation keys; values are HTML fragments.
type Storage interface {
	// Get returns the stored value. ok is false when nothing was stored.
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// WatchableStorage is a Storage that can report changes made by other
// processes. The callback may run on any goroutine.
type WatchableStorage interface {
	Storage
	Watch(onChange func()) (stop func() error, err error)
}

// ============================================================================
// MemoryStorage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// ============================================================================
// DSN factory
// ============================================================================

// StorageFactory builds a Storage from a DSN.
type StorageFactory func(dsn string) (Storage, error)

var storageFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]StorageFactory
}{
	factories: map[string]StorageFactory{},
}

// RegisterStorageFactory makes scheme resolvable by BuildStorageFromDSN,
// taking precedence over the built-in backends.
func RegisterStorageFactory(scheme string, factory StorageFactory) {
	scheme = normalizeStorageScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storageFactoryRegistry.mu.Lock()
	defer storageFactoryRegistry.mu.Unlock()
	storageFactoryRegistry.factories[scheme] = factory
}

func lookupStorageFactory(scheme string) (StorageFactory, bool) {
	scheme = normalizeStorageScheme(scheme)
	storageFactoryRegistry.mu.RLock()
	defer storageFactoryRegistry.mu.RUnlock()
	factory, ok := storageFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeStorageScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildStorageFromDSN resolves a DSN to a Storage. A bare path or file://
// URL selects the JSON file backend; memory://, postgres:// and sqlite://
// select the other built-ins.
func BuildStorageFromDSN(dsn string) (Storage, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStorage(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}
	scheme := normalizeStorageScheme(parsed.Scheme)
	if factory, ok := lookupStorageFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileStorage(nil, path), nil
	case "memory", "mem", "inmem":
		return NewMemoryStorage(), nil
	case "postgres", "postgresql":
		return NewPostgresStorage(dsn)
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteStorage(path)
	case "mysql", "redis":
		return nil, fmt.Errorf("%w: storage backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
