package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"eventrides/internal/auth"
	"eventrides/internal/domain"
	"eventrides/internal/logging"
	"eventrides/internal/middleware"
	"eventrides/internal/model"
	"eventrides/internal/session"
	"eventrides/internal/store"
	"eventrides/internal/store/memory"
)

type rawFrame struct {
	Kind string          `json:"kind"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

type feedServer struct {
	st       *memory.Store
	registry *session.Registry
	verifier *auth.Verifier
	url      string
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()
	st := memory.New()
	registry := session.NewRegistry(st, nil, logger)
	t.Cleanup(registry.Close)
	verifier := auth.NewVerifier("test-secret", time.Hour)

	router := gin.New()
	router.GET("/v1/feed", middleware.Auth(verifier), NewHandler(registry, logger).Serve)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &feedServer{
		st:       st,
		registry: registry,
		verifier: verifier,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed",
	}
}

func (s *feedServer) dial(t *testing.T, id session.Identity) *websocket.Conn {
	t.Helper()
	token, err := s.verifier.Issue(id)
	if err != nil {
		t.Fatal(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"?access_token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(rawFrame) bool) rawFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f rawFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func TestFeedRejectsWithoutSession(t *testing.T) {
	s := newFeedServer(t)
	token, _ := s.verifier.Issue(session.Identity{UID: "R"})
	_, resp, err := websocket.DefaultDialer.Dial(s.url+"?access_token="+token, nil)
	if err == nil {
		t.Fatal("dial succeeded without a session")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestFeedStreamsUserAndRide(t *testing.T) {
	s := newFeedServer(t)
	ctx := context.Background()
	id := session.Identity{UID: "R", Public: &domain.PublicProfile{DisplayName: "Riley"}}
	if _, err := s.registry.SignIn(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := s.st.Set(ctx, model.EventRef("evt1"), store.Data{"title": "Formal"}); err != nil {
		t.Fatal(err)
	}
	conn := s.dial(t, id)

	first := readUntil(t, conn, func(f rawFrame) bool { return f.Kind == KindUser })
	var user model.UserState
	if err := json.Unmarshal(first.Data, &user); err != nil {
		t.Fatal(err)
	}
	if user.UID != "R" {
		t.Errorf("user frame uid = %q", user.UID)
	}

	ref, err := model.CreateRide(ctx, s.st, domain.Person{UID: "R", DisplayName: "Riley"}, domain.EventInfo{UID: "evt1", Title: "Formal"}, domain.Location{Lat: 1, Lon: 1})
	if err != nil {
		t.Fatal(err)
	}
	f := readUntil(t, conn, func(f rawFrame) bool {
		return f.Kind == KindRide && string(f.Data) != "null" && strings.Contains(string(f.Data), `"exists":true`)
	})
	var ride struct {
		UID    string `json:"uid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(f.Data, &ride); err != nil {
		t.Fatal(err)
	}
	if ride.UID != ref.ID() || ride.Status != "queued" {
		t.Errorf("ride frame = %+v", ride)
	}
	if f.Seq <= first.Seq {
		t.Errorf("sequence did not advance: %d then %d", first.Seq, f.Seq)
	}

	if err := model.NewRide(s.st, ref, logging.Discard()).CancelRequest(ctx, "R", "evt1"); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(f rawFrame) bool { return f.Kind == KindRide && string(f.Data) == "null" })
}

func TestFeedClosesOnSignOut(t *testing.T) {
	s := newFeedServer(t)
	id := session.Identity{UID: "R"}
	if _, err := s.registry.SignIn(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	conn := s.dial(t, id)
	readUntil(t, conn, func(f rawFrame) bool { return f.Kind == KindUser })

	s.registry.SignOut("R")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("expected normal closure, got %v", err)
			}
			return
		}
	}
}
