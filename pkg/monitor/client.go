package monitor

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stepcore/pkg/pool"
)

const (
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// client is one websocket session.
type client struct {
	id         string
	conn       *websocket.Conn
	server     *Server
	sendCh     chan any
	done       chan struct{}
	closeOnce  sync.Once
	subscribed atomic.Bool
}

func newClient(s *Server, conn *websocket.Conn) *client {
	return &client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		sendCh: make(chan any, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues msg. A slow session loses messages rather than stalling the
// broadcaster.
func (c *client) Send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.log.WithField("session", c.id).Warn("send buffer full, dropping message")
	}
}

// Close ends the session. Safe to call more than once.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// write encodes msg into a pooled buffer and sends it as one text frame.
func (c *client) write(msg any) error {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		c.server.log.WithError(err).Warn("unencodable message dropped")
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func (c *client) handleMessage(data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.Send(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "Parse error"}})
		return
	}
	result, err := c.server.dispatch(req.Method, c)
	if err != nil {
		c.Send(errorResponse(req.ID, err))
		return
	}
	c.Send(rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}
