package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"eventrides/internal/session"
)

type memReplays struct {
	mu      sync.Mutex
	entries map[string][]byte
	down    bool
}

func newMemReplays() *memReplays {
	return &memReplays{entries: make(map[string][]byte)}
}

func (m *memReplays) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, false, errors.New("connection refused")
	}
	data, ok := m.entries[key]
	return data, ok, nil
}

func (m *memReplays) Save(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("connection refused")
	}
	m.entries[key] = data
	return nil
}

func (m *memReplays) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// replayRouter mounts a ride request handler that counts its calls. The
// X-User header stands in for Auth.
func replayRouter(mw gin.HandlerFunc, status int) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	calls := 0
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-User"); uid != "" {
			c.Set(IdentityKey, session.Identity{UID: uid})
		}
		c.Next()
	})
	r.Use(mw)
	handle := func(c *gin.Context) {
		calls++
		c.JSON(status, gin.H{"call": calls})
	}
	r.POST("/rides", handle)
	r.GET("/rides", handle)
	return r, &calls
}

func send(r *gin.Engine, method, uid, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/rides", nil)
	if uid != "" {
		req.Header.Set("X-User", uid)
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_RetryReplaysFirstResponse(t *testing.T) {
	r, calls := replayRouter(Idempotency(newMemReplays()), http.StatusCreated)

	first := send(r, http.MethodPost, "R", "k1")
	again := send(r, http.MethodPost, "R", "k1")

	if *calls != 1 {
		t.Fatalf("handler ran %d times", *calls)
	}
	if again.Code != http.StatusCreated || again.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %q, want %d %q", again.Code, again.Body.String(), first.Code, first.Body.String())
	}
	if again.Header().Get(replayedHeader) != "true" || first.Header().Get(replayedHeader) != "" {
		t.Error("replay header misplaced")
	}
	if ct := again.Header().Get("Content-Type"); ct != first.Header().Get("Content-Type") {
		t.Errorf("content type = %q", ct)
	}
}

func TestIdempotency_KeysScopedPerUser(t *testing.T) {
	replays := newMemReplays()
	r, calls := replayRouter(Idempotency(replays), http.StatusCreated)

	send(r, http.MethodPost, "R", "shared")
	send(r, http.MethodPost, "Q", "shared")
	send(r, http.MethodPost, "", "shared")

	if *calls != 3 {
		t.Errorf("handler ran %d times, want one per caller", *calls)
	}
	if replays.len() != 3 {
		t.Errorf("stored %d responses", replays.len())
	}
}

func TestIdempotency_ReadsAndUnkeyedPassThrough(t *testing.T) {
	replays := newMemReplays()
	r, calls := replayRouter(Idempotency(replays), http.StatusOK)

	send(r, http.MethodGet, "R", "k1")
	send(r, http.MethodGet, "R", "k1")
	send(r, http.MethodPost, "R", "")
	send(r, http.MethodPost, "R", "")

	if *calls != 4 {
		t.Errorf("handler ran %d times", *calls)
	}
	if replays.len() != 0 {
		t.Errorf("stored %d responses", replays.len())
	}
}

func TestIdempotency_ServerErrorNotRecorded(t *testing.T) {
	replays := newMemReplays()
	r, calls := replayRouter(Idempotency(replays), http.StatusServiceUnavailable)

	send(r, http.MethodPost, "R", "k1")
	send(r, http.MethodPost, "R", "k1")

	if *calls != 2 {
		t.Errorf("handler ran %d times", *calls)
	}
	if replays.len() != 0 {
		t.Error("server error recorded")
	}
}

func TestIdempotency_ClientErrorRecorded(t *testing.T) {
	r, calls := replayRouter(Idempotency(newMemReplays()), http.StatusConflict)

	send(r, http.MethodPost, "R", "k1")
	if w := send(r, http.MethodPost, "R", "k1"); w.Code != http.StatusConflict {
		t.Errorf("replay status = %d", w.Code)
	}
	if *calls != 1 {
		t.Errorf("handler ran %d times", *calls)
	}
}

func TestIdempotency_StoreDownRunsHandler(t *testing.T) {
	replays := newMemReplays()
	replays.down = true
	r, calls := replayRouter(Idempotency(replays), http.StatusCreated)

	for i := 0; i < 2; i++ {
		if w := send(r, http.MethodPost, "R", "k1"); w.Code != http.StatusCreated {
			t.Fatalf("status = %d", w.Code)
		}
	}
	if *calls != 2 {
		t.Errorf("handler ran %d times", *calls)
	}
}

func TestIdempotencyMiddleware_NilClientPassesThrough(t *testing.T) {
	r, calls := replayRouter(IdempotencyMiddleware(nil), http.StatusCreated)

	send(r, http.MethodPost, "R", "k1")
	send(r, http.MethodPost, "R", "k1")

	if *calls != 2 {
		t.Errorf("handler ran %d times", *calls)
	}
}
