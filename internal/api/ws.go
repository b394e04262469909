package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"shadowcam/internal/logging"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 1024
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts same-host requests and configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// handleWebSocket pushes a SessionResponse on every snapshot change and
// re-sends the current one every SnapshotInterval as a keepalive.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.opts.Controller.Subscribe()
	defer cancel()

	// reader drains control frames and notices the client going away
	closed := make(chan struct{})
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.SnapshotInterval)
	defer ticker.Stop()

	send := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(SessionResponse{
			Session:       s.opts.Controller.Snapshot(),
			SignInPrompts: s.prompts(),
		}) == nil
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case _, ok := <-updates:
			if !ok || !send() {
				return
			}
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
