package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replay"
	replayTTL         = 24 * time.Hour
)

// ReplayStore keeps recorded responses by scoped idempotency key.
type ReplayStore interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

type redisReplays struct{ client *redis.Client }

func (r redisReplays) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r redisReplays) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, data, ttl).Err()
}

// recordedResponse is what a retried request gets back.
type recordedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

func (r recordedResponse) replay(c *gin.Context) {
	c.Header(replayedHeader, "true")
	c.Data(r.Status, r.ContentType, r.Body)
	c.Abort()
}

// recorder tees the handler's output so it can be stored after the fact.
type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *recorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func (w *recorder) recorded() recordedResponse {
	return recordedResponse{
		Status:      w.Status(),
		ContentType: w.Header().Get("Content-Type"),
		Body:        w.buf.Bytes(),
	}
}

// replayKey returns the store key for a retried mutation, scoped to the
// signed-in uid so two users never share a key. Reads and requests without
// an Idempotency-Key are not replayed.
func replayKey(c *gin.Context) (string, bool) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return "", false
	}
	key := c.GetHeader(idempotencyHeader)
	if key == "" {
		return "", false
	}
	owner := "anonymous"
	if id, ok := GetIdentity(c); ok {
		owner = id.UID
	}
	return "idempotency:" + owner + ":" + key, true
}

// IdempotencyMiddleware replays responses from Redis. A nil client disables
// replay.
func IdempotencyMiddleware(redisClient *redis.Client) gin.HandlerFunc {
	if redisClient == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return Idempotency(redisReplays{client: redisClient})
}

// Idempotency answers a retried ride or drive mutation with the response
// recorded for its first attempt. Server errors are not recorded, so the
// retry runs again. A replay store that cannot be reached only disables
// replay for that request.
func Idempotency(replays ReplayStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := replayKey(c)
		if !ok {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		data, found, err := replays.Load(ctx, key)
		if err != nil {
			c.Next()
			return
		}
		if found {
			var prev recordedResponse
			if json.Unmarshal(data, &prev) == nil {
				prev.replay(c)
				return
			}
		}

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		resp := rec.recorded()
		if resp.Status >= http.StatusInternalServerError {
			return
		}
		if data, err := json.Marshal(resp); err == nil {
			_ = replays.Save(ctx, key, data, replayTTL)
		}
	}
}
