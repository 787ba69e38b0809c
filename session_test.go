package twwplus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLearnsFromHTTPClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/group", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"name":"Ops","groupId":"g1"}]}`)
	})
	mux.HandleFunc("/api/message/recent", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"receiverType":1,"senderId":"7","receiverId":"g1","state":{"7":1},"meta":{"content":"hello"}}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sched := NewManualScheduler()
	sess := NewSession(NewDocument(), NewMemoryStorage(), WithScheduler(sched))
	client := sess.HTTPClient(srv.Client())

	for _, path := range []string{"/api/group", "/api/message/recent?limit=20"} {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		_, err = io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	id, ok := sess.Directory().IDByName("Ops")
	assert.True(t, ok)
	assert.Equal(t, "g1", id)

	s, ok := sess.Cache().Get("gg1")
	require.True(t, ok)
	text, _ := s.Preview()
	assert.Equal(t, "hello", text)
}

func TestSessionExtraResponseHandlers(t *testing.T) {
	sess := NewSession(NewDocument(), NewMemoryStorage(), WithScheduler(NewManualScheduler()))

	var seen []string
	sess.OnResponse(func(sig ResponseSignal) { panic("listener bug") })
	sess.OnResponse(func(sig ResponseSignal) { seen = append(seen, sig.URL) })

	sess.EmitResponse(listing("api/group", `{"data":[{"name":"Ops","groupId":"g1"}]}`))
	assert.Equal(t, []string{"https://chat.example.com/api/group"}, seen)
	_, ok := sess.Directory().IDByName("Ops")
	assert.True(t, ok)
}

func TestSessionCloseFlushesDrafts(t *testing.T) {
	sched := NewManualScheduler()
	storage := newRecordingStorage()
	sess := NewSession(NewDocument(), storage, WithScheduler(sched), WithDraftDebounce(time.Minute))

	sess.Drafts().Save("u1", "unsent", nil)
	assert.Empty(t, storage.Writes())
	require.NoError(t, sess.Close())
	assert.Equal(t, []write{{"u1", "unsent"}}, storage.Writes())
}

func TestSessionRunsItsLoop(t *testing.T) {
	sess := NewSession(NewDocument(), NewMemoryStorage())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(ctx) }()

	done := make(chan string, 1)
	sess.EmitResponse(listing("api/group", `{"data":[{"name":"Ops","groupId":"g1"}]}`))
	sess.Scheduler().Post(func() {
		id, _ := sess.Directory().IDByName("Ops")
		done <- id
	})
	assert.Equal(t, "g1", waitFor(t, done))

	cancel()
	assert.ErrorIs(t, waitFor(t, errCh), context.Canceled)

	manual := NewSession(NewDocument(), NewMemoryStorage(), WithScheduler(NewManualScheduler()))
	assert.NoError(t, manual.Run(context.Background()))
}

func TestSessionResponsesNeverBlock(t *testing.T) {
	loop := NewLoop()
	sess := NewSession(NewDocument(), NewMemoryStorage(), WithScheduler(loop))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			sess.EmitResponse(listing("api/group", `{"data":[{"name":"Ops","groupId":"g1"}]}`))
		}
	}()
	waitFor(t, done)
}
