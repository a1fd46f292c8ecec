package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunbk201/uricheck/internal/common"
	applog "github.com/sunbk201/uricheck/internal/log"
	"github.com/sunbk201/uricheck/internal/status"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// responseEvent is one line of /responses.
type responseEvent struct {
	URI    string        `json:"uri"`
	Source common.Source `json:"source"`
	Status status.Status `json:"status"`
}

// Publish sends a finished check to /responses subscribers.
func (s *APIServer) Publish(resp common.Response) {
	if s.responses.Subscribers() == 0 {
		return
	}
	line, err := json.Marshal(responseEvent{
		URI:    resp.Request.URI.String(),
		Source: resp.Request.Source,
		Status: resp.Status,
	})
	if err != nil {
		slog.Error("json.Marshal", slog.Any("error", err))
		return
	}
	_, _ = s.responses.Write(append(line, '\n'))
}

func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	stream(w, r, s.logs, "text/plain; charset=utf-8")
}

func (s *APIServer) handleResponses(w http.ResponseWriter, r *http.Request) {
	stream(w, r, s.responses, "application/x-ndjson")
}

// stream relays src line by line until the client leaves: one message per
// line over a WebSocket when the client asks for one, a chunked body of
// contentType otherwise.
func stream(w http.ResponseWriter, r *http.Request, src *applog.Broadcaster, contentType string) {
	var (
		send func(line []byte) error
		gone <-chan struct{}
	)
	if websocket.IsWebSocketUpgrade(r) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			return
		}
		defer conn.Close()
		send = func(line []byte) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(websocket.TextMessage, line)
		}
		gone = drain(conn)
	} else {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		send = func(line []byte) error {
			if _, err := w.Write(line); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		gone = r.Context().Done()
	}

	lines, unsubscribe := src.Subscribe()
	defer unsubscribe()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := send(line); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// drain reads and discards client messages; the returned channel closes
// when the connection does.
func drain(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
