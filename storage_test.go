package twwplus

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStorageFromDSNMemory(t *testing.T) {
	for _, dsn := range []string{"", "memory://", "mem://"} {
		storage, err := BuildStorageFromDSN(dsn)
		require.NoError(t, err, dsn)
		require.IsType(t, &MemoryStorage{}, storage, dsn)

		require.NoError(t, storage.Set("u1", "hello"))
		v, ok, err := storage.Get("u1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "hello", v)
	}
}

func TestBuildStorageFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "drafts.json")
	storage, err := BuildStorageFromDSN("file://" + path)
	require.NoError(t, err)
	require.IsType(t, &FileStorage{}, storage)
	require.NoError(t, storage.Set("g17", "<b>later</b>"))

	reopened, err := BuildStorageFromDSN(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get("g17")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<b>later</b>", v)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file left behind")
}

func TestBuildStorageFromDSNSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	storage, err := BuildStorageFromDSN("sqlite://" + path)
	require.NoError(t, err)
	sqlite, ok := storage.(*SQLiteStorage)
	require.True(t, ok)
	defer sqlite.Close()

	_, found, err := storage.Get("u1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.Set("u1", "one"))
	require.NoError(t, storage.Set("u1", "two"))
	v, found, err := storage.Get("u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "two", v)
}

func TestBuildStorageFromDSNPostgres(t *testing.T) {
	storage, err := BuildStorageFromDSN("postgres://localhost/twwplus?sslmode=disable")
	require.NoError(t, err)
	pg, ok := storage.(*PostgresStorage)
	require.True(t, ok)
	assert.Equal(t, postgresDraftTableName, pg.tableName)
	assert.Nil(t, pg.db, "connection must be lazy")
	assert.Equal(t, `"twwplus_drafts"`, postgresQuoteIdentifier(pg.tableName))
	assert.Equal(t, `"we""ird"`, postgresQuoteIdentifier(`we"ird`))
}

func TestBuildStorageFromDSNUnsupported(t *testing.T) {
	_, err := BuildStorageFromDSN("mysql://localhost/twwplus")
	assert.True(t, errors.Is(err, ErrNotImplemented), "got %v", err)

	_, err = BuildStorageFromDSN("redis://localhost:6379/0")
	assert.True(t, errors.Is(err, ErrNotImplemented), "got %v", err)

	_, err = BuildStorageFromDSN("ftp://example.com/drafts")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotImplemented))

	_, err = BuildStorageFromDSN("sqlite://")
	assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
}

func TestRegisterStorageFactory(t *testing.T) {
	custom := NewMemoryStorage()
	RegisterStorageFactory(" Custom-Test ", func(dsn string) (Storage, error) {
		return custom, nil
	})
	storage, err := BuildStorageFromDSN("custom-test://anything")
	require.NoError(t, err)
	assert.Same(t, custom, storage)
}

func TestFileStorageOnMemMapFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorage(fs, "/drafts/drafts.json")

	_, ok, err := s.Get("u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("u1", "one"))
	require.NoError(t, s.Set("g2", "two"))

	data, err := afero.ReadFile(fs, "/drafts/drafts.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"u1":"one","g2":"two"}`, string(data))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "g2"}, keys)

	require.NoError(t, afero.WriteFile(fs, "/drafts/drafts.json", []byte(`{"u1":"edited"}`), 0o600))
	s.Reload()
	v, _, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "edited", v)

	require.NoError(t, afero.WriteFile(fs, "/drafts/drafts.json", []byte(`{broken`), 0o600))
	s.Reload()
	_, _, err = s.Get("u1")
	assert.Error(t, err)

	_, err = s.Watch(func() {})
	assert.True(t, errors.Is(err, ErrNotImplemented))
}

func TestFileStorageWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.json")
	watched := NewFileStorage(nil, path)
	require.NoError(t, watched.Set("u1", "mine"))

	var changes atomic.Int32
	stop, err := watched.Watch(func() { changes.Add(1) })
	require.NoError(t, err)
	defer stop()

	other := NewFileStorage(nil, path)
	require.NoError(t, other.Set("u1", "theirs"))

	assert.Eventually(t, func() bool { return changes.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	v, _, err := watched.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "theirs", v)
}
