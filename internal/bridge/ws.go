package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// WSConn talks to the native host over a WebSocket.
type WSConn struct {
	conn   *websocket.Conn
	wmu    sync.Mutex
	events chan Event
	log    *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// DialWS connects to the host's bridge endpoint.
func DialWS(ctx context.Context, url string, log *zap.Logger) (*WSConn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", url, err)
	}
	return &WSConn{
		conn:   conn,
		events: make(chan Event, 64),
		log:    log.Named("bridge"),
		closed: make(chan struct{}),
	}, nil
}

// Events returns decoded inbound events. The channel closes when Run returns.
func (c *WSConn) Events() <-chan Event { return c.events }

// Invoke sends one command to the host.
func (c *WSConn) Invoke(ctx context.Context, name, arg string) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	msg, err := EncodeInvoke(name, arg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("invoke %s: %w", name, err)
	}
	return nil
}

// Run reads and decodes messages until ctx is done or the connection drops.
func (c *WSConn) Run(ctx context.Context) error {
	defer close(c.events)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.pingLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		c.Close()
		return nil
	})
	return g.Wait()
}

func (c *WSConn) readLoop() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			return fmt.Errorf("read bridge: %w", err)
		}

		ev, err := Decode(data)
		if err != nil {
			msg := "bad bridge message"
			if errors.Is(err, ErrUnknownEvent) {
				msg = "ignoring bridge message"
			}
			c.log.Warn(msg, zap.Error(err))
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return nil
		}
	}
}

func (c *WSConn) pingLoop(ctx context.Context) error {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping bridge: %w", err)
			}
		}
	}
}

// Close shuts the connection. It is safe to call more than once.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
