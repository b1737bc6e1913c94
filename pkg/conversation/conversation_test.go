package conversation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/stream"
)

func validSettings() chat.Settings {
	s := chat.DefaultSettings()
	s.APIKey = "sk-test"
	return s
}

func waitDone(t *testing.T, s *stream.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session")
	}
}

func newBackend(t *testing.T, h http.HandlerFunc) (*backend.Client, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	cfg := backend.DefaultConfig()
	cfg.BaseURL = srv.URL
	return backend.NewClient(cfg), &calls
}

func streamChunks(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			w.(http.Flusher).Flush()
		}
	}
}

func TestSend_StreamsIntoAssistantTurn(t *testing.T) {
	client, _ := newBackend(t, streamChunks("Hel", "lo, wor", "ld!"))
	store := chat.NewStore()
	c := New(store, client)

	sess, err := c.Send(context.Background(), validSettings(), "hi")
	require.NoError(t, err)
	waitDone(t, sess)

	turns, _ := store.Snapshot()
	require.Len(t, turns, 2)
	require.Equal(t, chat.RoleUser, turns[0].Role)
	require.Equal(t, "hi", turns[0].Content)
	require.Equal(t, chat.RoleAssistant, turns[1].Role)
	require.Equal(t, "Hello, world!", turns[1].Content)
	require.Equal(t, chat.TurnCompleted, turns[1].Status)
	require.Equal(t, stream.StateCompleted, sess.State())
}

func TestSend_PlaceholderVisibleBeforeFirstByte(t *testing.T) {
	release := make(chan struct{})
	client, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, "late")
	})
	store := chat.NewStore()
	c := New(store, client)

	sess, err := c.Send(context.Background(), validSettings(), "hi")
	require.NoError(t, err)

	turns, _ := store.Snapshot()
	require.Len(t, turns, 2)
	require.Equal(t, chat.TurnPending, turns[1].Status)
	require.Empty(t, turns[1].Content)

	close(release)
	waitDone(t, sess)
	got, _ := store.Get(sess.TurnID)
	require.Equal(t, "late", got.Content)
}

func TestSend_EmptyCredentialDoesNothing(t *testing.T) {
	client, calls := newBackend(t, streamChunks("never"))
	store := chat.NewStore()
	var events int
	store.Subscribe(func(chat.Event) { events++ })
	c := New(store, client)

	sess, err := c.Send(context.Background(), chat.DefaultSettings(), "hi")
	require.Nil(t, sess)
	require.True(t, chat.IsValidationError(err))
	require.Equal(t, 0, store.Len())
	require.Equal(t, 0, events)
	require.Equal(t, int32(0), atomic.LoadInt32(calls))
	require.Nil(t, c.Active())
}

func TestSend_ServerErrorFailsTurn(t *testing.T) {
	client, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := chat.NewStore()
	c := New(store, client)

	sess, err := c.Send(context.Background(), validSettings(), "hi")
	require.NoError(t, err)
	waitDone(t, sess)

	require.Equal(t, stream.StateFailed, sess.State())
	turns, _ := store.Snapshot()
	require.Len(t, turns, 2)
	require.Equal(t, "hi", turns[0].Content)
	require.Equal(t, chat.TurnCompleted, turns[0].Status)
	require.Equal(t, "Error: HTTP error! status: 500", turns[1].Content)
	require.Equal(t, chat.TurnFailed, turns[1].Status)
}

func TestSend_SecondSendReplacesFirst(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var n int32
	client, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			_, _ = io.WriteString(w, "first ")
			w.(http.Flusher).Flush()
			close(firstStarted)
			select {
			case <-releaseFirst:
			case <-r.Context().Done():
				return
			}
			_, _ = io.WriteString(w, "leaked")
			return
		}
		_, _ = io.WriteString(w, "second")
	})
	store := chat.NewStore()
	c := New(store, client)
	s := validSettings()

	first, err := c.Send(context.Background(), s, "one")
	require.NoError(t, err)
	<-firstStarted
	require.Eventually(t, func() bool {
		turn, _ := store.Get(first.TurnID)
		return turn.Content == "first "
	}, 2*time.Second, 5*time.Millisecond)

	second, err := c.Send(context.Background(), s, "two")
	require.NoError(t, err)
	close(releaseFirst)
	waitDone(t, first)
	waitDone(t, second)

	require.NotEqual(t, first.TurnID, second.TurnID)
	require.Equal(t, stream.StateCancelled, first.State())
	require.Equal(t, second, c.Active())

	t1, _ := store.Get(first.TurnID)
	t2, _ := store.Get(second.TurnID)
	require.Equal(t, "first ", t1.Content)
	require.Equal(t, chat.TurnCancelled, t1.Status)
	require.Equal(t, "second", t2.Content)
	require.Equal(t, chat.TurnCompleted, t2.Status)
	require.Equal(t, 4, store.Len())
}

func TestSend_ContextCancelStopsStream(t *testing.T) {
	client, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	store := chat.NewStore()
	c := New(store, client)

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := c.Send(ctx, validSettings(), "hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		turn, _ := store.Get(sess.TurnID)
		return turn.Content == "partial"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	waitDone(t, sess)
	require.Equal(t, stream.StateCancelled, sess.State())
	turn, _ := store.Get(sess.TurnID)
	require.Equal(t, "partial", turn.Content)
	require.Equal(t, chat.TurnCancelled, turn.Status)
}

func TestCancelAndClear(t *testing.T) {
	client, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "x")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	store := chat.NewStore()
	c := New(store, client, WithSettings(validSettings()))

	sess, err := c.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	c.Cancel()
	c.Cancel()
	waitDone(t, sess)
	require.Equal(t, stream.StateCancelled, sess.State())

	c.Clear()
	require.Equal(t, 0, store.Len())
	require.Nil(t, c.Active())
}

func TestSetSettings(t *testing.T) {
	c := New(chat.NewStore(), nil)
	require.Equal(t, chat.DefaultModel, c.Settings().Model)
	s := validSettings()
	s.Model = "gpt-4"
	c.SetSettings(s)
	require.Equal(t, "gpt-4", c.Settings().Model)
}
