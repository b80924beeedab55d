package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/maxwell3025/theorem-library/services/catalog/events"
	"github.com/maxwell3025/theorem-library/services/catalog/observability"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// WSEvent is the wire form of one status transition.
type WSEvent struct {
	Type       string    `json:"type"`
	RepoURL    string    `json:"repo_url"`
	Commit     string    `json:"commit"`
	Pipeline   string    `json:"pipeline"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Generation uint64    `json:"generation"`
	TaskID     string    `json:"task_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

func wireEvent(ev status.Event) WSEvent {
	return WSEvent{
		Type:       "status_transition",
		RepoURL:    ev.Ref.RepoURL,
		Commit:     ev.Ref.Commit,
		Pipeline:   ev.Pipeline.String(),
		From:       ev.From.String(),
		To:         ev.To.String(),
		Generation: ev.Generation,
		TaskID:     ev.TaskID,
		Detail:     ev.Detail,
		At:         ev.At,
	}
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// StreamEvents upgrades the connection and relays status transitions as they
// are applied. On connect the client first receives the retained backlog so
// it can render current activity, then live events. Slow clients miss events
// rather than slow the state machine down.
func StreamEvents(broadcaster *events.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected")

		if m := observability.DefaultMetrics; m != nil {
			m.WebsocketClients.Inc()
			defer m.WebsocketClients.Dec()
		}

		sub := broadcaster.Subscribe()
		defer broadcaster.Unsubscribe(sub.ID())

		for _, ev := range broadcaster.Recent() {
			if sendJSON(ws, wireEvent(ev)) != nil {
				return
			}
		}

		// Drain reads so we notice the client closing; the stream itself is
		// one-directional.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				slog.Info("Websocket client disconnected")
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if sendJSON(ws, wireEvent(ev)) != nil {
					return
				}
			}
		}
	}
}
