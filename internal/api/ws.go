package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/events"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxPending caps the packets held back for a rate-limited client.
	maxPending = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream pushes monitor batches to a WebSocket client. Batches that
// arrive faster than the stream rate are merged into the next message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debug("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	sub, cancel := s.monitor.Subscribe()
	defer cancel()

	streamRate := rate.Inf
	if s.cfg.Server.StreamRate > 0 {
		streamRate = rate.Limit(s.cfg.Server.StreamRate)
	}
	limiter := rate.NewLimiter(streamRate, 1)

	s.log.Info("stream client connected", "remote", r.RemoteAddr)
	defer s.log.Info("stream client disconnected", "remote", r.RemoteAddr,
		"dropped", sub.Dropped())

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var pending *events.Batch
	var retry <-chan time.Time

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-retry:
			retry = nil
		case b, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			pending = merge(pending, b)
		}

		if pending == nil {
			continue
		}
		if res := limiter.Reserve(); res.Delay() > 0 {
			res.Cancel()
			if retry == nil {
				retry = time.After(res.Delay())
			}
			continue
		}
		if err := writeBatch(conn, pending); err != nil {
			s.log.Debug("stream write failed", logging.Err(err))
			return
		}
		pending = nil
	}
}

// merge folds next into acc, keeping the newest stats and at most
// maxPending packets.
func merge(acc, next *events.Batch) *events.Batch {
	if acc == nil {
		// Batches are shared between subscribers; copy before appending.
		c := *next
		c.Packets = slices.Clone(next.Packets)
		c.Alerts = slices.Clone(next.Alerts)
		return &c
	}
	acc.Packets = append(acc.Packets, next.Packets...)
	if over := len(acc.Packets) - maxPending; over > 0 {
		acc.Packets = acc.Packets[over:]
	}
	acc.Alerts = append(acc.Alerts, next.Alerts...)
	if next.Stats != nil {
		acc.Stats = next.Stats
	}
	acc.Timestamp = next.Timestamp
	return acc
}

func writeBatch(conn *websocket.Conn, b *events.Batch) error {
	data, err := b.JSON()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump drains client frames so control messages are processed and
// closes done when the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
