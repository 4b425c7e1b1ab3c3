package fetcher

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

// Option configures a Fetcher
type Option func(*Fetcher)

// WithSink routes observability events to sink
func WithSink(sink logging.Sink) Option {
	return func(f *Fetcher) {
		if sink != nil {
			f.sink = sink
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(f *Fetcher) {
		f.log = logging.Named(log, "fetcher")
	}
}

// WithDialer replaces websocket.DefaultDialer
func WithDialer(d *websocket.Dialer) Option {
	return func(f *Fetcher) {
		if d != nil {
			f.dialer = d
		}
	}
}

// WithHeader adds headers to the opening handshake
func WithHeader(h http.Header) Option {
	return func(f *Fetcher) {
		f.header = h.Clone()
	}
}

// WithReadLimit caps the size of one inbound frame
func WithReadLimit(n int64) Option {
	return func(f *Fetcher) {
		f.readLimit = n
	}
}

// WithStateHook is called on every state transition, serialized with the
// other callbacks. err is set when Closed was caused by the transport.
// The hook must not call OnMessage, OnFilesKnown or Close.
func WithStateHook(hook func(State, error)) Option {
	return func(f *Fetcher) {
		f.stateHook = hook
	}
}
