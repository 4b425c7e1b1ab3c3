// Package fetcher retrieves file bytes for a set of CIDs from a retrieval
// gateway over one WebSocket connection.
//
// A Fetcher sends at most one GET_FILES batch per connection and then
// accumulates every file frame the gateway pushes, keeping the first
// payload seen for each CID. Connection events, inbound frames and catalog
// notifications are handled one at a time per Fetcher.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
	"github.com/Priceless-P/BoxPeer-Web/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	sendBufferSz = 16
)

var (
	ErrAlreadyOpened = errors.New("fetcher already opened")
	// ErrClosed is returned by Open after Close
	ErrClosed = errors.New("fetcher closed")
	// ErrConnectionClosed is the terminal error after the gateway closed the connection
	ErrConnectionClosed = errors.New("connection closed by gateway")
	// ErrTransport wraps dial, read and write failures
	ErrTransport = errors.New("transport error")
)

// State is the connection state of a Fetcher
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Record is one retrieved file. Data must not be modified.
type Record struct {
	CID  string
	Data []byte
}

// Fetcher owns one gateway connection and the files received on it
type Fetcher struct {
	url       string
	id        string
	dialer    *websocket.Dialer
	header    http.Header
	readLimit int64
	sink      logging.Sink
	log       *zap.Logger
	stateHook func(State, error)

	// eventMu serializes callbacks: state transitions, OnFilesKnown, OnMessage
	eventMu     sync.Mutex
	opened      bool
	conn        *websocket.Conn
	cancelDial  context.CancelFunc
	requestSent atomic.Bool
	sendCh      chan []byte
	ready       chan struct{}
	done        chan struct{}

	// stateMu guards state and err for readers outside the event stream
	stateMu sync.RWMutex
	state   State
	err     error

	recMu   sync.RWMutex
	records []Record
	index   map[string]struct{}
}

// New creates a Fetcher for the gateway at url. Nothing is dialed until Open.
func New(url string, opts ...Option) *Fetcher {
	f := &Fetcher{
		url:    url,
		id:     uuid.NewString(),
		dialer: websocket.DefaultDialer,
		sink:   logging.NopSink,
		log:    zap.NewNop(),
		sendCh: make(chan []byte, sendBufferSz),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		index:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With(zap.String("fetcher", f.id))
	return f
}

// ID identifies this instance in logs and events
func (f *Fetcher) ID() string {
	return f.id
}

func (f *Fetcher) URL() string {
	return f.url
}

func (f *Fetcher) State() State {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

// Err returns the error that closed the connection, nil after an explicit Close
func (f *Fetcher) Err() error {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.err
}

// Ready is closed when the connection enters Open
func (f *Fetcher) Ready() <-chan struct{} {
	return f.ready
}

// Done is closed when the connection enters Closed
func (f *Fetcher) Done() <-chan struct{} {
	return f.done
}

// RequestSent reports whether the batch request has been queued
func (f *Fetcher) RequestSent() bool {
	return f.requestSent.Load()
}

// Open starts dialing the gateway and returns without waiting for the
// handshake. Ready or Done report the outcome. Cancelling ctx aborts the dial
// only; it has no effect once the connection is open.
func (f *Fetcher) Open(ctx context.Context) error {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()

	if f.opened {
		return ErrAlreadyOpened
	}
	f.opened = true
	if f.State() == Closed {
		return ErrClosed
	}

	dialCtx, cancel := context.WithCancel(ctx)
	f.cancelDial = cancel
	f.log.Debug("dialing gateway", zap.String("url", f.url))
	go f.dial(dialCtx)
	return nil
}

func (f *Fetcher) dial(ctx context.Context) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, f.header)

	f.eventMu.Lock()
	defer f.eventMu.Unlock()
	f.cancelDial()

	if f.State() == Closed {
		// closed while dialing
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		f.closeLocked(fmt.Errorf("%w: dial %s: %v", ErrTransport, f.url, err))
		return
	}

	if f.readLimit > 0 {
		conn.SetReadLimit(f.readLimit)
	}
	f.conn = conn
	f.setStateLocked(Open, nil)
	close(f.ready)
	f.sink.Record(logging.Event{Kind: logging.EventConnectionOpened, Source: f.id})

	go f.readPump(conn)
	go f.writePump(conn)
}

// OnFilesKnown queues the single batch request for cids when the connection
// is open, no batch has been sent yet and cids is non-empty. Otherwise it
// does nothing. It never blocks on the network.
func (f *Fetcher) OnFilesKnown(cids []string) {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()

	if f.State() != Open || f.requestSent.Load() {
		return
	}
	batch := uniqueCIDs(cids)
	if len(batch) == 0 {
		return
	}

	select {
	case f.sendCh <- []byte(protocol.FormatGetFiles(batch)):
	default:
		f.log.Warn("send buffer full, batch request not queued")
		return
	}
	f.requestSent.Store(true)
	f.sink.Record(logging.Event{Kind: logging.EventRequestSent, Source: f.id, Count: len(batch)})
}

// OnMessage handles one inbound frame. Malformed frames are reported to the
// sink and dropped. A file for an already known CID is dropped silently.
func (f *Fetcher) OnMessage(raw []byte) {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()

	if f.State() == Closed {
		return
	}

	msg, err := protocol.DecodeFileMessage(raw)
	if err != nil {
		f.sink.Record(logging.Event{Kind: logging.EventMalformedMessage, Source: f.id, Err: err})
		return
	}

	f.recMu.Lock()
	if _, ok := f.index[msg.CID]; ok {
		f.recMu.Unlock()
		return
	}
	f.index[msg.CID] = struct{}{}
	f.records = append(f.records, Record{CID: msg.CID, Data: msg.Data})
	n := len(f.records)
	f.recMu.Unlock()

	f.sink.Record(logging.Event{Kind: logging.EventRecordAdded, Source: f.id, CID: msg.CID, Count: n})
}

// Snapshot returns the files received so far in arrival order
func (f *Fetcher) Snapshot() []Record {
	f.recMu.RLock()
	defer f.recMu.RUnlock()

	out := make([]Record, len(f.records))
	copy(out, f.records)
	return out
}

func (f *Fetcher) Len() int {
	f.recMu.RLock()
	defer f.recMu.RUnlock()
	return len(f.records)
}

// Has reports whether a file for cid has been received
func (f *Fetcher) Has(cid string) bool {
	f.recMu.RLock()
	defer f.recMu.RUnlock()
	_, ok := f.index[cid]
	return ok
}

// Close releases the connection. It is safe in any state and idempotent.
// No sink event or state hook call happens after Close returns.
func (f *Fetcher) Close() error {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()

	if f.State() == Closed {
		return nil
	}
	if f.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	f.closeLocked(nil)
	return nil
}

// closeLocked moves to Closed. Callers hold eventMu.
func (f *Fetcher) closeLocked(err error) {
	if f.State() == Closed {
		return
	}
	if f.cancelDial != nil {
		f.cancelDial()
	}
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.setStateLocked(Closed, err)
	close(f.done)

	if err != nil {
		f.sink.Record(logging.Event{Kind: logging.EventTransportError, Source: f.id, Err: err})
	}
	f.sink.Record(logging.Event{Kind: logging.EventConnectionClosed, Source: f.id, Count: f.Len()})
}

func (f *Fetcher) setStateLocked(s State, err error) {
	f.stateMu.Lock()
	f.state = s
	f.err = err
	f.stateMu.Unlock()

	f.log.Debug("state changed", zap.Stringer("state", s), zap.Error(err))
	if f.stateHook != nil {
		f.stateHook(s, err)
	}
}

// transportFailed closes the fetcher after a pump error
func (f *Fetcher) transportFailed(err error) {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()

	if f.State() == Closed {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		f.closeLocked(ErrConnectionClosed)
		return
	}
	f.closeLocked(fmt.Errorf("%w: %v", ErrTransport, err))
}

func (f *Fetcher) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.transportFailed(err)
			return
		}
		f.OnMessage(data)
	}
}

func (f *Fetcher) writePump(conn *websocket.Conn) {
	for {
		select {
		case frame := <-f.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				f.transportFailed(err)
				return
			}
			f.log.Debug("sent request", zap.Int("bytes", len(frame)))
		case <-f.done:
			return
		}
	}
}

// uniqueCIDs drops empty and repeated entries, keeping first-seen order
func uniqueCIDs(cids []string) []string {
	seen := make(map[string]struct{}, len(cids))
	out := make([]string, 0, len(cids))
	for _, c := range cids {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
