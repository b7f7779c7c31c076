// ABOUTME: WebSocket feed of the open device table at /v1/devices/watch.
// ABOUTME: Pushes a snapshot whenever the table changes and answers ping and enumerate requests.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/plugins/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024

	// DefaultWatchInterval is how often the device table is compared for changes.
	DefaultWatchInterval = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts clients without an Origin, same-host pages and local
// development origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsMessage struct {
	ID      int                  `json:"id,omitempty"`
	Type    string               `json:"type"`
	Args    string               `json:"args,omitempty"`
	Devices []factory.OpenDevice `json:"devices,omitempty"`
	Results []core.Kwargs        `json:"results,omitempty"`
	Error   *wsError             `json:"error,omitempty"`
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeConn sync.Once
	logger    *slog.Logger
}

// watchDevices handles GET /v1/devices/watch
func (s *Server) watchDevices(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		logger: s.logger.With("remote", remoteHost(r)),
	}
	client.logger.Debug("device watch connected")

	go client.writePump(s.factory, s.watchInterval)
	go s.readPump(client)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) readPump(client *wsClient) {
	defer func() {
		client.cancel()
		client.closeOnce.Do(func() { close(client.send) })
		client.closeConn.Do(func() { client.conn.Close() })
		client.logger.Debug("device watch disconnected")
	}()

	client.conn.SetReadLimit(maxMessageSize)
	if err := client.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Warn("device watch read failed", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.sendMessage(wsMessage{Type: "result", Error: &wsError{Code: "invalid_format", Message: "failed to parse message"}})
			continue
		}

		switch msg.Type {
		case "ping":
			client.sendMessage(wsMessage{ID: msg.ID, Type: "pong"})
		case "enumerate":
			results := s.factory.EnumerateString(msg.Args)
			client.sendMessage(wsMessage{ID: msg.ID, Type: "result", Args: msg.Args, Results: results})
		default:
			client.sendMessage(wsMessage{
				ID:    msg.ID,
				Type:  "result",
				Error: &wsError{Code: "unknown_command", Message: "unknown command: " + msg.Type},
			})
		}
	}
}

// writePump is the only writer on the connection. It interleaves replies,
// device table snapshots and keepalive pings.
func (client *wsClient) writePump(f *factory.Factory, interval time.Duration) {
	ping := time.NewTicker(pingPeriod)
	poll := time.NewTicker(interval)
	defer func() {
		ping.Stop()
		poll.Stop()
		client.closeConn.Do(func() { client.conn.Close() })
	}()

	var last []byte
	snapshot := func() bool {
		data, err := json.Marshal(wsMessage{Type: "devices", Devices: f.Open()})
		if err != nil || bytes.Equal(data, last) {
			return err == nil
		}
		last = data
		return client.write(websocket.TextMessage, data)
	}

	if !snapshot() {
		return
	}
	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				client.write(websocket.CloseMessage, []byte{})
				return
			}
			if !client.write(websocket.TextMessage, message) {
				return
			}
		case <-poll.C:
			if !snapshot() {
				return
			}
		case <-ping.C:
			if !client.write(websocket.PingMessage, nil) {
				return
			}
		case <-client.ctx.Done():
			return
		}
	}
}

func (client *wsClient) write(messageType int, data []byte) bool {
	if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := client.conn.WriteMessage(messageType, data); err != nil {
		client.logger.Debug("device watch write failed", "error", err)
		return false
	}
	return true
}

// sendMessage queues a reply, dropping it when the client is not keeping up.
func (client *wsClient) sendMessage(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		client.logger.Error("marshal websocket message", "error", err)
		return
	}
	select {
	case client.send <- data:
	case <-client.ctx.Done():
	default:
		client.logger.Warn("device watch send buffer full, dropping message", "type", msg.Type)
	}
}
