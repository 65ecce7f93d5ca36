package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"serverlink/internal/bridge"
)

// LocalHost stands in for the native host when none is attached. It answers
// queryServer with a direct UDP getinfo and reports that no game is
// available for connectTo.
type LocalHost struct {
	events  chan bridge.Event
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger

	// getInfo is swapped in tests.
	getInfo func(ctx context.Context, addr string) (bridge.ServerQueried, error)

	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalHost creates a LocalHost allowing qps outbound queries per second.
func NewLocalHost(qps float64, timeout time.Duration, log *zap.Logger) *LocalHost {
	if log == nil {
		log = zap.NewNop()
	}
	if qps <= 0 {
		qps = 20
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}
	return &LocalHost{
		events:  make(chan bridge.Event, 64),
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		timeout: timeout,
		log:     log.Named("localhost"),
		getInfo: GetInfo,
		done:    make(chan struct{}),
	}
}

// Events returns events produced in answer to invoked commands.
func (h *LocalHost) Events() <-chan bridge.Event { return h.events }

// Invoke handles one command. Queries run in the background.
func (h *LocalHost) Invoke(ctx context.Context, name, arg string) error {
	select {
	case <-h.done:
		return bridge.ErrClosed
	default:
	}

	switch name {
	case bridge.CmdQueryServer:
		go h.query(arg)
	case bridge.CmdConnectTo:
		h.log.Info("connect requested without a game host", zap.String("arg", arg))
		go func() {
			h.emit(bridge.Connecting{})
			h.emit(bridge.ConnectFailed{
				Message: "No game process is attached to this bridge.",
				Extra:   &bridge.FailureExtra{Title: "Not connected", Fault: "you"},
			})
		}()
	default:
		h.log.Debug("host command", zap.String("name", name), zap.String("arg", arg))
	}
	return nil
}

func (h *LocalHost) query(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.limiter.Wait(ctx); err != nil {
		h.log.Debug("query rate limited", zap.String("addr", addr), zap.Error(err))
		h.emit(bridge.QueryFailed{Arg: addr})
		return
	}

	info, err := h.getInfo(ctx, addr)
	if err != nil {
		h.log.Debug("getinfo failed", zap.String("addr", addr), zap.Error(err))
		h.emit(bridge.QueryFailed{Arg: addr})
		return
	}
	info.QueryCorrelation = addr
	h.emit(info)
}

func (h *LocalHost) emit(ev bridge.Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// Close stops accepting commands.
func (h *LocalHost) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}
