package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	sendBufferSz = 100
	// pending requests per connection; the read loop waits when full
	requestQueueSz = 16
)

var errConnectionClosed = errors.New("connection closed")

// Connection is one client WebSocket on the gateway
type Connection struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	log     *zap.Logger
	sendCh  chan outbound
	reqCh   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

type outbound struct {
	messageType int
	data        []byte
}

// newConnection wraps an upgraded connection
func newConnection(conn *websocket.Conn, server *Server) *Connection {
	ctx, cancel := context.WithCancel(server.ctx)
	id := uuid.NewString()
	return &Connection{
		id:      id,
		conn:    conn,
		server:  server,
		log:     server.log.With(zap.String("conn", id)),
		sendCh:  make(chan outbound, sendBufferSz),
		reqCh:   make(chan string, requestQueueSz),
		ctx:     ctx,
		cancel:  cancel,
		closeCh: make(chan struct{}),
	}
}

// ID identifies the connection in logs
func (c *Connection) ID() string {
	return c.id
}

// Start begins processing the WebSocket connection
func (c *Connection) Start() {
	go c.readPump()
	go c.writePump()
	go c.requestPump()
}

// Send queues a text frame, waiting for buffer space until the connection closes
func (c *Connection) Send(frame []byte) error {
	return c.enqueue(outbound{messageType: websocket.TextMessage, data: frame})
}

func (c *Connection) enqueue(msg outbound) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	case <-c.closeCh:
		return errConnectionClosed
	}
}

// Close closes the WebSocket connection and cancels its in-flight fetches
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	close(c.closeCh)
	_ = c.conn.Close()
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.closeCh
}

// readPump reads frames and hands text frames to the protocol handler.
// The read deadline is pushed forward by every pong, so a client that stops
// answering pings for clientTimeout is disconnected.
func (c *Connection) readPump() {
	defer c.Close()

	ws := c.server.cfg.WebSocket
	if ws.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(ws.MaxMessageBytes)
	}
	clientTimeout := ws.ClientTimeout.Duration
	_ = c.conn.SetReadDeadline(time.Now().Add(clientTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(clientTimeout))

		switch messageType {
		case websocket.TextMessage:
			c.log.Debug("received", zap.Int("bytes", len(data)))
			select {
			case c.reqCh <- string(data):
			case <-c.closeCh:
				return
			}
		case websocket.BinaryMessage:
			// binary frames are echoed back
			if err := c.enqueue(outbound{messageType: websocket.BinaryMessage, data: data}); err != nil {
				return
			}
		}
	}
}

// requestPump serves text requests one at a time in arrival order
func (c *Connection) requestPump() {
	for {
		select {
		case text := <-c.reqCh:
			c.handleText(text)
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) handleText(text string) {
	m := c.server.metrics
	res, err := c.server.handler.HandleClientMessage(c.ctx, text, c.Send)
	m.FilesSent.Add(float64(res.FilesSent))
	m.FetchErrors.Add(float64(res.FetchErrors))

	switch {
	case errors.Is(res.Rejected, protocol.ErrNoValidCIDs):
		m.Requests.WithLabelValues("no_valid_cids").Inc()
	case errors.Is(res.Rejected, protocol.ErrUnknownCommand):
		m.Requests.WithLabelValues("unknown_command").Inc()
	default:
		m.Requests.WithLabelValues("batch").Inc()
	}

	if err != nil && !errors.Is(err, errConnectionClosed) && !errors.Is(err, context.Canceled) {
		c.log.Warn("request failed", zap.Error(err))
		return
	}
	c.log.Debug("request served", zap.Int("files", res.FilesSent), zap.Int("errors", res.FetchErrors))
}

// writePump writes queued frames and sends a ping every heartbeat interval
func (c *Connection) writePump() {
	defer c.Close()

	ticker := time.NewTicker(c.server.cfg.WebSocket.HeartbeatInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				c.log.Info("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Info("heartbeat failed", zap.Error(err))
				return
			}

		case <-c.closeCh:
			return
		}
	}
}
