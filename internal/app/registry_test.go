package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dispatchhq/commshub/internal/core"
)

type fakeConn struct {
	mu           sync.Mutex
	connectDelay time.Duration
	connected    bool
	closed       bool
}

func (c *fakeConn) Connect(_ context.Context) error {
	if c.connectDelay > 0 {
		time.Sleep(c.connectDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ConnIdle
	}
	if c.connected {
		return core.ConnOpen
	}
	return core.ConnIdle
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestOpenReplacesExistingConnection(t *testing.T) {
	req := require.New(t)
	var made []*fakeConn
	reg := NewRegistry(func(_ core.RoomID, _ core.Identity) core.RealtimeConn {
		c := &fakeConn{}
		made = append(made, c)
		return c
	})
	ctx := context.Background()

	first, err := reg.Open(ctx, "global", "driver-12")
	req.NoError(err)
	second, err := reg.Open(ctx, "global", "driver-12")
	req.NoError(err)

	req.NotSame(first, second)
	req.Len(made, 2)
	req.True(made[0].isClosed())
	req.False(made[1].isClosed())

	got, ok := reg.Get("global", "driver-12")
	req.True(ok)
	req.Same(second, got)
}

func TestDistinctIdentitiesKeepSeparateConnections(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(func(_ core.RoomID, _ core.Identity) core.RealtimeConn {
		return &fakeConn{}
	})
	ctx := context.Background()

	a, err := reg.Open(ctx, "global", "driver-12")
	req.NoError(err)
	b, err := reg.Open(ctx, "global", "driver-13")
	req.NoError(err)
	req.NotSame(a, b)

	got, ok := reg.Get("global", "driver-12")
	req.True(ok)
	req.Same(a, got)
}

func TestConcurrentOpensNeverOrphanConnections(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		var mu sync.Mutex
		var made []*fakeConn
		reg := NewRegistry(func(_ core.RoomID, _ core.Identity) core.RealtimeConn {
			c := &fakeConn{connectDelay: time.Millisecond}
			mu.Lock()
			made = append(made, c)
			mu.Unlock()
			return c
		})

		errs := make(chan error, 2)
		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := reg.Open(ctx, "global", "driver-12")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			req.NoError(err)
		}
		reg.CloseAll()

		mu.Lock()
		conns := append([]*fakeConn(nil), made...)
		mu.Unlock()
		req.Len(conns, 2)
		for _, c := range conns {
			req.True(c.isClosed(), "iteration %d: connection never closed", i)
		}
	}
}

func TestCloseAllDrainsRegistry(t *testing.T) {
	req := require.New(t)
	var made []*fakeConn
	reg := NewRegistry(func(_ core.RoomID, _ core.Identity) core.RealtimeConn {
		c := &fakeConn{}
		made = append(made, c)
		return c
	})
	ctx := context.Background()

	_, err := reg.Open(ctx, "global", "driver-12")
	req.NoError(err)
	_, err = reg.Open(ctx, "north", "driver-12")
	req.NoError(err)

	reg.CloseAll()
	for _, c := range made {
		req.True(c.isClosed())
	}
	_, ok := reg.Get("global", "driver-12")
	req.False(ok)
}
