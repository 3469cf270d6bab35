package admin

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/presence"
)

type kick struct {
	id    uint32
	delay time.Duration
}

type fakeKicker struct {
	mu    sync.Mutex
	known map[uint32]bool
	kicks []kick
}

func (k *fakeKicker) Kick(_ context.Context, id uint32, delay time.Duration) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.known[id] {
		return false
	}

	k.kicks = append(k.kicks, kick{id: id, delay: delay})
	return true
}

func newTestServer(t *testing.T) (*Server, *presence.MemoryStore, *fakeKicker) {
	t.Helper()

	store := presence.NewMemoryStore(time.Minute)
	require.NoError(t, store.Put(context.Background(), presence.Record{ID: 42, ConnID: 1, Server: "test", RemoteAddr: "127.0.0.1:5000"}, 0))
	require.NoError(t, store.Put(context.Background(), presence.Record{ID: 7, ConnID: 2, Server: "test"}, 0))

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "admin_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	kicker := &fakeKicker{known: map[uint32]bool{42: true}}
	return NewServer("127.0.0.1:0", store, kicker, reg, logger.NewNopLogger()), store, kicker
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["sessions"])
}

func TestServer_Metrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_test_total 3")
}

func TestServer_Sessions(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("list is sorted by id", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/sessions")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Sessions []presence.Record `json:"sessions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Sessions, 2)
		assert.Equal(t, uint32(7), body.Sessions[0].ID)
		assert.Equal(t, uint32(42), body.Sessions[1].ID)
	})

	t.Run("get one", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/sessions/42")
		require.Equal(t, http.StatusOK, rec.Code)

		var r presence.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
		assert.Equal(t, "127.0.0.1:5000", r.RemoteAddr)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/sessions/99")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad ids", func(t *testing.T) {
		for _, id := range []string{"0", "abc", "-1", "4294967296"} {
			rec := do(t, s, http.MethodGet, "/sessions/"+id)
			assert.Equal(t, http.StatusBadRequest, rec.Code, id)
		}
	})
}

func TestServer_Kick(t *testing.T) {
	s, _, kicker := newTestServer(t)

	t.Run("immediate", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/sessions/42")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"id":42,"delay":0}`, strings.TrimSpace(rec.Body.String()))
	})

	t.Run("delayed", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/sessions/42?delay=3")
		require.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("century delay does not wrap", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/sessions/42?delay=9460800000")
		require.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("bad delay", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/sessions/42?delay=-1").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/sessions/42?delay=soon").Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/sessions/7").Code)
	})

	assert.Equal(t, []kick{{id: 42, delay: 0}, {id: 42, delay: 3 * time.Second}, {id: 42, delay: time.Duration(math.MaxInt64)}}, kicker.kicks)
}

func TestServer_Serve(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "admin server did not stop")
	}
}
