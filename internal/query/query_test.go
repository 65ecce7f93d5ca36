package query

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverlink/internal/bridge"
	"serverlink/internal/coalesce"
)

func TestParseInfoResponse(t *testing.T) {
	vars, err := ParseInfoResponse([]byte("\xff\xff\xff\xffinfoResponse\n\\hostname\\My Server\\clients\\4\\sv_maxclients\\48\x00"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"hostname": "My Server", "clients": "4", "sv_maxclients": "48"}, vars)

	_, err = ParseInfoResponse([]byte("\xff\xff\xff\xffstatusResponse\n\\a\\b"))
	assert.ErrorIs(t, err, ErrBadResponse)
}

// serveInfo answers one getinfo on a loopback socket.
func serveInfo(t *testing.T, vars string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 1024)
		n, raddr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		req := string(bytes.TrimPrefix(buf[:n], oob))
		challenge := strings.TrimPrefix(req, "getinfo ")
		resp := "\xff\xff\xff\xffinfoResponse\n" + vars + "\\challenge\\" + challenge
		_, _ = pc.WriteTo([]byte(resp), raddr)
	}()
	return pc.LocalAddr().String()
}

func TestGetInfo(t *testing.T) {
	addr := serveInfo(t, `\hostname\Test\clients\3\sv_maxclients\32\gamename\gta5\iv\7\sv_projectName\proj`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := GetInfo(ctx, addr)
	require.NoError(t, err)

	assert.Equal(t, addr, info.QueryCorrelation)
	assert.Equal(t, "Test", info.Hostname)
	assert.Equal(t, 3, info.Clients)
	assert.Equal(t, 32, info.MaxClients)
	assert.Equal(t, "gta5", info.GameName)
	assert.Equal(t, 7, info.IconVersion)
	assert.Equal(t, map[string]string{"sv_projectName": "proj"}, info.Vars)
}

type countingInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingInvoker) Invoke(_ context.Context, name, arg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name+" "+arg)
	return nil
}

func TestQuerierCorrelatesByAddress(t *testing.T) {
	inv := &countingInvoker{}
	q := NewQuerier(inv, time.Minute, clock.NewMock(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan bridge.ServerQueried, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := q.Query(ctx, "1.2.3.4:30120")
			if err == nil {
				results <- r
			}
		}()
	}

	require.Eventually(t, func() bool { return q.co.Pending("1.2.3.4:30120") }, time.Second, time.Millisecond)
	// Give the second caller a chance to join the pending request.
	time.Sleep(20 * time.Millisecond)

	q.HandleEvent(bridge.ServerQueried{QueryCorrelation: "other"})
	q.HandleEvent(bridge.ServerQueried{QueryCorrelation: "1.2.3.4:30120", Hostname: "h"})

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			assert.Equal(t, "h", r.Hostname)
		case <-ctx.Done():
			t.Fatal("query did not settle")
		}
	}
	assert.Equal(t, []string{"queryServer 1.2.3.4:30120"}, inv.calls)
}

func TestQuerierFailure(t *testing.T) {
	q := NewQuerier(&countingInvoker{}, time.Minute, clock.NewMock(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Query(ctx, "x:1")
		errs <- err
	}()
	require.Eventually(t, func() bool { return q.co.Pending("x:1") }, time.Second, time.Millisecond)
	q.HandleEvent(bridge.QueryFailed{Arg: "x:1"})

	assert.ErrorIs(t, <-errs, coalesce.ErrFailed)
}

func TestLocalHost(t *testing.T) {
	h := NewLocalHost(100, time.Second, nil)
	defer h.Close()
	h.getInfo = func(_ context.Context, addr string) (bridge.ServerQueried, error) {
		if addr == "bad:1" {
			return bridge.ServerQueried{}, errors.New("unreachable")
		}
		return bridge.ServerQueried{Hostname: "ok"}, nil
	}

	ctx := context.Background()
	require.NoError(t, h.Invoke(ctx, bridge.CmdQueryServer, "good:1"))
	assert.Equal(t, bridge.ServerQueried{QueryCorrelation: "good:1", Hostname: "ok"}, <-h.Events())

	require.NoError(t, h.Invoke(ctx, bridge.CmdQueryServer, "bad:1"))
	assert.Equal(t, bridge.QueryFailed{Arg: "bad:1"}, <-h.Events())

	require.NoError(t, h.Invoke(ctx, bridge.CmdConnectTo, bridge.ConnectToArg("x", "n")))
	assert.Equal(t, bridge.Connecting{}, <-h.Events())
	_, failed := (<-h.Events()).(bridge.ConnectFailed)
	assert.True(t, failed)

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Invoke(ctx, bridge.CmdCancelDefer, ""), bridge.ErrClosed)
}
