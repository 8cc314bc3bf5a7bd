package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/musher-dev/adoc/internal/observability"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// Event is one cache key change.
type Event struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// handleEvents streams cache changes over a websocket until the client
// goes away. A subscriber that falls eventBuffer events behind is dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("Event stream upgrade failed", slog.String("error", err.Error()))
		return
	}

	defer conn.CloseNow()

	events := make(chan Event, eventBuffer)
	overflow := make(chan struct{})

	var once sync.Once

	cancel := s.cache.OnAnyChange(func(key string, value json.RawMessage) {
		select {
		case events <- Event{Key: key, Value: value}:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer cancel()

	// The client never sends; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			_ = conn.Close(websocket.StatusPolicyViolation, "event stream too slow")
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				logger.Debug("Event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, ev)
}
