package bus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// Endpoint sends messages to one peer, over the wire or in-process.
type Endpoint interface {
	Send(msg *Message) error
	Close() error
}

// Handler receives messages dispatched from an Endpoint's read pump.
type Handler func(msg *Message)

const (
	heartbeatInterval = time.Second
	deadConnection    = 3 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEndpoint wraps one websocket connection. A single writer goroutine owns
// the connection (gorilla/websocket connections are not safe for concurrent
// writes); Send enqueues onto its channel.
type wsEndpoint struct {
	conn             *websocket.Conn
	send             chan *Message
	log              *logger.Logger
	closed           chan struct{}
	once             sync.Once
	lastSeenUnixNano atomic.Int64
}

func newWSEndpoint(conn *websocket.Conn, log *logger.Logger) *wsEndpoint {
	ep := &wsEndpoint{conn: conn, send: make(chan *Message, 64), log: log, closed: make(chan struct{})}
	ep.lastSeenUnixNano.Store(time.Now().UnixNano())
	go ep.writePump()
	return ep
}

// watchdog closes the connection if no frame (including heartbeats) has
// been seen for longer than deadConnection, surfacing the same failure
// path as a transport error (§4.A failure semantics).
func (ep *wsEndpoint) watchdog(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ep.closed:
			return
		case <-ticker.C:
			last := time.Unix(0, ep.lastSeenUnixNano.Load())
			if time.Since(last) > deadConnection {
				ep.log.DebugBus("bus: connection silent past deadline, closing")
				ep.Close()
				return
			}
		}
	}
}

func (ep *wsEndpoint) Send(msg *Message) error {
	select {
	case ep.send <- msg:
		return nil
	case <-ep.closed:
		return fmt.Errorf("bus: endpoint closed")
	}
}

func (ep *wsEndpoint) Close() error {
	ep.once.Do(func() { close(ep.closed) })
	return ep.conn.Close()
}

func (ep *wsEndpoint) writePump() {
	for {
		select {
		case <-ep.closed:
			return
		case msg := <-ep.send:
			raw, err := encodeFrame(msg)
			if err != nil {
				ep.log.Error("bus: encode frame failed", "error", err)
				continue
			}
			if err := ep.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
				ep.log.DebugBus("bus: write failed, closing endpoint", "error", err)
				ep.Close()
				return
			}
		}
	}
}

// readPump decodes incoming frames and invokes onMessage for each; it calls
// onDisconnect once the connection drops (transport error or close).
func (ep *wsEndpoint) readPump(onMessage Handler, onDisconnect func()) {
	defer onDisconnect()
	defer ep.Close()
	for {
		_, raw, err := ep.conn.ReadMessage()
		if err != nil {
			return
		}
		ep.lastSeenUnixNano.Store(time.Now().UnixNano())
		msg, err := decodeFrame(raw)
		if err != nil {
			ep.log.DebugBus("bus: dropping malformed frame", "error", err)
			continue
		}
		if msg.Kind == slaveAlive {
			continue
		}
		msg.Received = time.Now()
		onMessage(msg)
	}
}

// LocalPair returns two endpoints wired directly to each other's handlers,
// bypassing all wire framing — used by tests and single-process demo mode
// per spec.md's "Local in-process delivery" note.
func LocalPair(aHandler, bHandler Handler) (a, b Endpoint) {
	ca := &localEndpoint{peerHandler: bHandler}
	cb := &localEndpoint{peerHandler: aHandler}
	return ca, cb
}

type localEndpoint struct {
	peerHandler Handler
	mu          sync.Mutex
	closed      bool
}

func (l *localEndpoint) Send(msg *Message) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("bus: local endpoint closed")
	}
	msg.Received = time.Now()
	l.peerHandler(msg)
	return nil
}

func (l *localEndpoint) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Server accepts websocket connections from Slaves on the Master side.
type Server struct {
	log        *logger.Logger
	onConnect  func(slaveName string, ep Endpoint)
	onMessage  func(slaveName string, msg *Message)
	onDisconnect func(slaveName string)
	httpServer *http.Server
}

// NewServer builds a Master-side bus listener.
func NewServer(log *logger.Logger, onConnect func(string, Endpoint), onMessage func(string, *Message), onDisconnect func(string)) *Server {
	return &Server{log: log, onConnect: onConnect, onMessage: onMessage, onDisconnect: onDisconnect}
}

// Start begins accepting connections at addr. The slave name is taken from
// the "slave_name" query parameter of the upgrade request.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/bus", func(w http.ResponseWriter, r *http.Request) {
		slaveName := r.URL.Query().Get("slave_name")
		if slaveName == "" {
			http.Error(w, "slave_name required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Error("bus: upgrade failed", "error", err)
			return
		}
		ep := newWSEndpoint(conn, s.log)
		s.onConnect(slaveName, ep)
		go ep.watchdog(context.Background())
		go ep.readPump(
			func(msg *Message) { s.onMessage(slaveName, msg) },
			func() { s.onDisconnect(slaveName) },
		)
	})

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// DialSlave connects a Slave process to the Master's bus listener and
// starts the 1s heartbeat and the read pump.
func DialSlave(ctx context.Context, addr, slaveName string, log *logger.Logger, onMessage Handler, onDisconnect func()) (Endpoint, error) {
	url := fmt.Sprintf("ws://%s/bus?slave_name=%s", addr, slaveName)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: dial master: %w", err)
	}
	ep := newWSEndpoint(conn, log)
	go ep.readPump(onMessage, onDisconnect)
	go ep.watchdog(ctx)
	go heartbeatLoop(ctx, ep)
	return ep, nil
}

func heartbeatLoop(ctx context.Context, ep *wsEndpoint) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ep.closed:
			return
		case <-ticker.C:
			_ = ep.Send(&Message{Kind: slaveAlive})
		}
	}
}
