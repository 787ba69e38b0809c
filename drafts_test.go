package twwplus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	key, value string
}

// recordingStorage is a MemoryStorage that remembers every Set and can be
// told to fail.
type recordingStorage struct {
	*MemoryStorage

	mu     sync.Mutex
	writes []write
	fail   error
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{MemoryStorage: NewMemoryStorage()}
}

func (s *recordingStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return "", false, fail
	}
	return s.MemoryStorage.Get(key)
}

func (s *recordingStorage) Set(key, value string) error {
	s.mu.Lock()
	s.writes = append(s.writes, write{key, value})
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.MemoryStorage.Set(key, value)
}

func (s *recordingStorage) Writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

func TestDraftStoreDebounce(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	store := NewDraftStore(storage, sched, DefaultDraftDebounce, zerolog.Nop())

	var persisted []string
	onPersist := func(text string) { persisted = append(persisted, text) }

	store.Save("u1", "H", onPersist)
	sched.Advance(50 * time.Millisecond)
	store.Save("u1", "Hi", onPersist)
	assert.True(t, store.Pending("u1"))

	sched.Advance(149 * time.Millisecond)
	assert.Empty(t, storage.Writes(), "written before the window elapsed")

	sched.Advance(time.Millisecond)
	assert.Equal(t, []write{{"u1", "Hi"}}, storage.Writes())
	assert.Equal(t, []string{"Hi"}, persisted)
	assert.False(t, store.Pending("u1"))

	text, ok := store.Read("u1")
	assert.True(t, ok)
	assert.Equal(t, "Hi", text)

	sched.Advance(time.Second)
	assert.Len(t, storage.Writes(), 1)
}

func TestDraftStoreKeysAreIndependent(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	store := NewDraftStore(storage, sched, 100*time.Millisecond, zerolog.Nop())

	store.Save("u1", "one", nil)
	sched.Advance(60 * time.Millisecond)
	store.Save("g2", "two", nil)
	sched.Advance(40 * time.Millisecond)
	assert.Equal(t, []write{{"u1", "one"}}, storage.Writes())

	sched.Advance(60 * time.Millisecond)
	assert.Equal(t, []write{{"u1", "one"}, {"g2", "two"}}, storage.Writes())
}

func TestDraftStoreReadsStorage(t *testing.T) {
	storage := newRecordingStorage()
	require.NoError(t, storage.MemoryStorage.Set("g9", "<b>saved</b>"))
	store := NewDraftStore(storage, NewManualScheduler(), 0, zerolog.Nop())

	text, ok := store.Read("g9")
	assert.True(t, ok)
	assert.Equal(t, "<b>saved</b>", text)

	_, ok = store.Read("u404")
	assert.False(t, ok)
}

func TestDraftStoreStorageFailure(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	storage.fail = errors.New("disk full")
	store := NewDraftStore(storage, sched, DefaultDraftDebounce, zerolog.Nop())

	called := false
	store.Save("u1", "lost", func(string) { called = true })
	sched.Advance(DefaultDraftDebounce)

	assert.Len(t, storage.Writes(), 1)
	assert.True(t, called, "persist callback runs even when the write fails")
	_, ok := store.Read("u1")
	assert.False(t, ok, "failed reads surface as no draft")
}

func TestDraftStoreFlush(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	store := NewDraftStore(storage, sched, DefaultDraftDebounce, zerolog.Nop())

	var persisted []string
	store.Save("u1", "almost", func(text string) { persisted = append(persisted, text) })
	store.Flush()
	assert.Equal(t, []write{{"u1", "almost"}}, storage.Writes())
	assert.Equal(t, []string{"almost"}, persisted)

	sched.Advance(time.Second)
	assert.Len(t, storage.Writes(), 1, "flushed draft written twice")

	store.Flush()
	assert.Len(t, storage.Writes(), 1)
}

func TestDraftStoreInvalidate(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	store := NewDraftStore(storage, sched, DefaultDraftDebounce, zerolog.Nop())

	store.Save("u1", "mine", nil)
	sched.Advance(DefaultDraftDebounce)
	require.NoError(t, storage.MemoryStorage.Set("u1", "from elsewhere"))

	text, _ := store.Read("u1")
	assert.Equal(t, "mine", text)

	store.Invalidate()
	text, _ = store.Read("u1")
	assert.Equal(t, "from elsewhere", text)
}

func TestDraftStoreClear(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	store := NewDraftStore(storage, sched, DefaultDraftDebounce, zerolog.Nop())

	store.Save("u1", "text", nil)
	sched.Advance(DefaultDraftDebounce)
	store.Save("u1", "", nil)
	sched.Advance(DefaultDraftDebounce)

	text, ok := store.Read("u1")
	assert.True(t, ok)
	assert.Empty(t, text)
	assert.Equal(t, []write{{"u1", "text"}, {"u1", ""}}, storage.Writes())
}
