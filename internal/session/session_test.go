package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priceless-P/BoxPeer-Web/internal/blockstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/catalog"
	"github.com/Priceless-P/BoxPeer-Web/internal/config"
	"github.com/Priceless-P/BoxPeer-Web/internal/fetcher"
	"github.com/Priceless-P/BoxPeer-Web/internal/gateway"
	"github.com/Priceless-P/BoxPeer-Web/internal/kvstore"
)

// countingCatalog counts Refresh calls and can grow its list
type countingCatalog struct {
	refreshes atomic.Int32
	cids      atomic.Value // []string
	err       error
}

func newCountingCatalog(cids ...string) *countingCatalog {
	c := &countingCatalog{}
	c.cids.Store(cids)
	return c
}

func (c *countingCatalog) Refresh(context.Context) error {
	c.refreshes.Add(1)
	return c.err
}

func (c *countingCatalog) CIDs() []string {
	return c.cids.Load().([]string)
}

func startGateway(t *testing.T, files ...string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	bs, err := blockstore.New(kvstore.NewMemoryStore(), 16, nil)
	require.NoError(t, err)

	var cids []string
	for _, f := range files {
		c, err := bs.Put(ctx, []byte(f))
		require.NoError(t, err)
		cids = append(cids, c.String())
	}

	gw := gateway.New(ctx, config.DefaultConfig(), bs, nil)
	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Stop()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", cids
}

func TestSessionFetchesCatalog(t *testing.T) {
	url, cids := startGateway(t, "hello", "!")
	cat := newCountingCatalog(cids...)

	s := New(fetcher.New(url), cat, nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	records, err := s.Wait(ctx, cids)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.True(t, s.Fetcher().RequestSent())
	assert.Equal(t, int32(1), cat.refreshes.Load())

	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)
	assert.Equal(t, int32(1), cat.refreshes.Load())
}

func TestSessionRefreshAfterBatchDoesNotRequestNewCIDs(t *testing.T) {
	url, cids := startGateway(t, "first", "second")
	cat := newCountingCatalog(cids[0])

	s := New(fetcher.New(url), cat, nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	_, err := s.Wait(ctx, cids[:1])
	require.NoError(t, err)

	cat.cids.Store(cids)
	require.NoError(t, s.Refresh(ctx))

	time.Sleep(200 * time.Millisecond)
	assert.False(t, s.Fetcher().Has(cids[1]))
	assert.Equal(t, 1, s.Fetcher().Len())
}

func TestSessionEmptyCatalogThenRefresh(t *testing.T) {
	url, cids := startGateway(t, "late")
	cat := newCountingCatalog()

	s := New(fetcher.New(url), cat, nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	select {
	case <-s.Fetcher().Ready():
	case <-ctx.Done():
		t.Fatal("never connected")
	}
	assert.False(t, s.Fetcher().RequestSent())

	// the catalog grows before any batch went out, so Refresh sends it
	cat.cids.Store(cids)
	require.NoError(t, s.Refresh(ctx))
	assert.True(t, s.Fetcher().RequestSent())

	_, err := s.Wait(ctx, cids)
	require.NoError(t, err)
}

func TestSessionCatalogFailure(t *testing.T) {
	cat := newCountingCatalog()
	cat.err = errors.New("catalog offline")

	f := fetcher.New("ws://127.0.0.1:1/ws")
	s := New(f, cat, nil)
	defer s.Close()

	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, fetcher.Connecting, f.State())
}

func TestWaitReturnsWhenConnectionCloses(t *testing.T) {
	url, cids := startGateway(t, "hello")
	s := New(fetcher.New(url), newCountingCatalog(cids...), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = s.Close()
	}()

	_, err := s.Wait(ctx, []string{"bafkreinever"})
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestWaitHonoursContext(t *testing.T) {
	s := New(fetcher.New("ws://unused"), catalog.NewStatic(nil), nil)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, []string{"Qm1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
