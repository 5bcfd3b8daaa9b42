// Package feed streams a signed-in user's live data over a WebSocket. Each
// frame carries the full current state of one entity: the user, the ride
// they requested, the ride they drive, or the event they drive for.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"eventrides/internal/middleware"
	"eventrides/internal/model"
	"eventrides/internal/notify"
	"eventrides/internal/observability"
	"eventrides/internal/session"
)

// Frame kinds.
const (
	KindUser     = "user"
	KindRide     = "ride"
	KindDrive    = "drive"
	KindDriveFor = "driveFor"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// Frame is one message written to the client. Data is null when the
// relation was cleared.
type Frame struct {
	Kind string `json:"kind"`
	Seq  uint64 `json:"seq"`
	Data any    `json:"data"`
}

// Handler upgrades authenticated requests into feed connections.
type Handler struct {
	registry *session.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new Handler.
func NewHandler(registry *session.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve handles GET /v1/feed
func (h *Handler) Serve(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	sess, ok := h.registry.Get(id.UID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no session, sign in first"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("feed upgrade failed", "uid", id.UID, "error", err)
		return
	}

	observability.FeedClients.Inc()
	defer observability.FeedClients.Dec()

	cl := newClient(conn, sess, h.logger.With("uid", id.UID))
	cl.run(c.Request.Context())
}

// client follows one session. Observer callbacks only record which kinds are
// dirty; the run loop reads entity state and writes frames, so no entity lock
// is held while talking to the socket.
type client struct {
	conn   *websocket.Conn
	sess   *session.Session
	logger *slog.Logger
	wake   chan struct{}

	mu    sync.Mutex
	dirty map[string]bool

	seq      uint64
	ride     *model.Ride
	drive    *model.Ride
	driveFor *model.Event
	rideSub  *notify.Subscription[*model.Ride]
	driveSub *notify.Subscription[*model.Ride]
	eventSub *notify.Subscription[*model.Event]
}

func newClient(conn *websocket.Conn, sess *session.Session, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		sess:   sess,
		logger: logger,
		wake:   make(chan struct{}, 1),
		dirty:  make(map[string]bool),
	}
}

func (c *client) mark(kind string) {
	c.mu.Lock()
	c.dirty[kind] = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) take() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.dirty
	c.dirty = make(map[string]bool)
	return d
}

func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()

	go c.readPump(cancel)

	userSub := c.sess.Subscribe(func(*model.User) { c.mark(KindUser) })
	defer func() {
		userSub.Unsubscribe()
		c.rideSub.Unsubscribe()
		c.driveSub.Unsubscribe()
		c.eventSub.Unsubscribe()
	}()
	c.mark(KindUser)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sess.Done():
			c.closeWith(websocket.CloseNormalClosure, "signed out")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.wake:
			if err := c.flush(); err != nil {
				c.logger.Debug("feed write failed", "error", err)
				return
			}
		}
	}
}

func (c *client) flush() error {
	dirty := c.take()
	if dirty[KindUser] {
		c.follow(dirty)
		if err := c.write(KindUser, c.sess.User().State()); err != nil {
			return err
		}
	}
	for _, kind := range []string{KindRide, KindDrive, KindDriveFor} {
		if !dirty[kind] {
			continue
		}
		if err := c.write(kind, c.state(kind)); err != nil {
			return err
		}
	}
	return nil
}

// follow moves the entity subscriptions to the user's current relations and
// marks every kind whose target changed.
func (c *client) follow(dirty map[string]bool) {
	u := c.sess.User()
	if r := u.Ride(); r != c.ride {
		c.rideSub.Unsubscribe()
		c.ride, c.rideSub = r, nil
		if r != nil {
			c.rideSub = r.Subscribe(func(*model.Ride) { c.mark(KindRide) })
		}
		dirty[KindRide] = true
	}
	if r := u.Drive(); r != c.drive {
		c.driveSub.Unsubscribe()
		c.drive, c.driveSub = r, nil
		if r != nil {
			c.driveSub = r.Subscribe(func(*model.Ride) { c.mark(KindDrive) })
		}
		dirty[KindDrive] = true
	}
	if e := u.DriveFor(); e != c.driveFor {
		c.eventSub.Unsubscribe()
		c.driveFor, c.eventSub = e, nil
		if e != nil {
			c.eventSub = e.Subscribe(func(*model.Event) { c.mark(KindDriveFor) })
		}
		dirty[KindDriveFor] = true
	}
}

func (c *client) state(kind string) any {
	switch kind {
	case KindRide:
		if c.ride != nil {
			return c.ride.State()
		}
	case KindDrive:
		if c.drive != nil {
			return c.drive.State()
		}
	case KindDriveFor:
		if c.driveFor != nil {
			return c.driveFor.State()
		}
	}
	return nil
}

func (c *client) write(kind string, data any) error {
	c.seq++
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(Frame{Kind: kind, Seq: c.seq, Data: data})
}

func (c *client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readPump drains client messages so pongs and close frames are processed.
func (c *client) readPump(cancel context.CancelFunc) {
	defer cancel()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
