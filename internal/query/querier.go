// Package query issues live server queries through the host bridge.
package query

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"serverlink/internal/bridge"
	"serverlink/internal/coalesce"
)

// DefaultTimeout bounds one queryServer round trip.
const DefaultTimeout = 7500 * time.Millisecond

// Querier sends queryServer to the host and correlates the answer by the
// queried address. Concurrent queries for one address share a request.
type Querier struct {
	co  *coalesce.Coalescer[bridge.ServerQueried]
	log *zap.Logger
}

// NewQuerier creates a Querier that dispatches through inv.
func NewQuerier(inv bridge.Invoker, timeout time.Duration, clk clock.Clock, log *zap.Logger) *Querier {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	q := &Querier{log: log.Named("query")}
	q.co = coalesce.New[bridge.ServerQueried](func(addr string) error {
		return inv.Invoke(context.Background(), bridge.CmdQueryServer, addr)
	}, timeout, clk)
	return q
}

// Query asks the host for live data about addr.
func (q *Querier) Query(ctx context.Context, addr string) (bridge.ServerQueried, error) {
	return q.co.Query(addr).Wait(ctx)
}

// HandleEvent settles pending queries from serverQueried and queryFailed.
func (q *Querier) HandleEvent(ev bridge.Event) {
	switch e := ev.(type) {
	case bridge.ServerQueried:
		if !q.co.Resolve(e.QueryCorrelation, e) {
			q.log.Debug("dropping unsolicited query response", zap.String("addr", e.QueryCorrelation))
		}
	case bridge.QueryFailed:
		if !q.co.Reject(e.Arg, "host could not query server") {
			q.log.Debug("dropping unsolicited query failure", zap.String("addr", e.Arg))
		}
	}
}
