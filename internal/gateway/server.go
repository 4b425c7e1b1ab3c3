// Package gateway serves files to content fetchers over WebSocket.
//
// A client sends one GET_FILES batch and receives one JSON frame per file.
// The gateway pings every client on a heartbeat and drops clients that stop
// answering. Prometheus metrics are exposed on /metrics.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/config"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
	"github.com/Priceless-P/BoxPeer-Web/internal/protocol"
)

// Server manages the HTTP server and WebSocket connections
type Server struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         *config.Config
	handler     *protocol.Handler
	log         *zap.Logger
	registry    *prometheus.Registry
	metrics     *Metrics
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	port        int
	connections map[*Connection]bool
	mu          sync.RWMutex
}

// New creates a gateway serving files from source
func New(ctx context.Context, cfg *config.Config, source protocol.ContentSource, log *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(ctx)
	registry := prometheus.NewRegistry()
	s := &Server{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		handler:     protocol.NewHandler(source),
		log:         logging.Named(log, "gateway"),
		registry:    registry,
		metrics:     NewMetrics(registry),
		port:        cfg.Server.Port,
		connections: make(map[*Connection]bool),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.cfg.WebSocket.CheckOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.WebSocket.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler returns the gateway routes: /ws and /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start listens on the first free port in port .. port+portRange-1 and
// serves in the background. Port 0 picks an ephemeral port.
func (s *Server) Start() error {
	startPort := s.cfg.Server.Port
	attempts := s.cfg.Server.PortRange
	if attempts < 1 || startPort == 0 {
		attempts = 1
	}

	var listener net.Listener
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(startPort+attempt))
		listener, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		s.log.Debug("port unavailable", zap.String("addr", addr), zap.Error(err))
	}
	if listener == nil {
		return fmt.Errorf("failed to find available port starting from %d: %w", startPort, err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	timeouts := s.cfg.Server.Timeouts
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       timeouts.Read.Duration,
		WriteTimeout:      timeouts.Write.Duration,
		IdleTimeout:       timeouts.Idle.Duration,
		ReadHeaderTimeout: timeouts.ReadHeader.Duration,
		MaxHeaderBytes:    s.cfg.Server.MaxHeaderBytes,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.log.Info("gateway started", zap.String("url", s.URL()))
	return nil
}

// Stop closes every connection and shuts the HTTP server down
func (s *Server) Stop() error {
	s.cancel()

	// copy first: Close runs the unregister goroutine, which takes s.mu
	s.mu.Lock()
	toClose := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		toClose = append(toClose, conn)
	}
	s.mu.Unlock()

	for _, conn := range toClose {
		conn.Close()
	}

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Port returns the port the server is listening on
func (s *Server) Port() int {
	return s.port
}

// URL is the WebSocket endpoint clients dial
func (s *Server) URL() string {
	return "ws://" + net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.port)) + "/ws"
}

// Done is closed when the server is stopped
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "gateway stopping", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("failed to upgrade connection", zap.Error(err))
		return
	}

	wsConn := newConnection(conn, s)

	s.mu.Lock()
	s.connections[wsConn] = true
	s.mu.Unlock()
	s.metrics.Connections.Inc()

	wsConn.Start()

	go func() {
		<-wsConn.Done()
		s.mu.Lock()
		delete(s.connections, wsConn)
		s.mu.Unlock()
		s.metrics.Connections.Dec()
		wsConn.log.Info("connection closed")
	}()

	wsConn.log.Info("connection established", zap.String("remote", r.RemoteAddr))
}
