package resolver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"serverlink/internal/servers"
)

// Refresher re-resolves stored servers in the background so the store
// reflects who is still reachable. Servers that no longer resolve are
// marked offline.
type Refresher struct {
	r     *Resolver
	log   *zap.Logger
	queue chan string

	mu      sync.Mutex
	pending map[string]bool
}

// NewRefresher creates a Refresher with room for queueLen waiting servers.
func NewRefresher(r *Resolver, queueLen int, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}
	if queueLen <= 0 {
		queueLen = 256
	}
	return &Refresher{
		r:       r,
		log:     log.Named("refresh"),
		queue:   make(chan string, queueLen),
		pending: make(map[string]bool),
	}
}

// Enqueue schedules the server id for a refresh unless it is already
// waiting. It reports false when the id is pending or the queue is full.
func (f *Refresher) Enqueue(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[id] {
		return false
	}
	select {
	case f.queue <- id:
		f.pending[id] = true
		return true
	default:
		return false
	}
}

// Run starts workers and, every interval, queues every online server not
// updated within that interval. It returns when ctx is done.
func (f *Refresher) Run(ctx context.Context, workers int, interval time.Duration) {
	if workers <= 0 {
		workers = 4
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.work(ctx)
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case now := <-ticker.C:
			f.scan(now, interval)
		}
	}
}

func (f *Refresher) scan(now time.Time, olderThan time.Duration) {
	n := 0
	for _, d := range f.r.store.List() {
		if d.Offline || now.Sub(d.UpdatedAt) < olderThan {
			continue
		}
		if f.Enqueue(d.ID) {
			n++
		}
	}
	if n > 0 {
		f.log.Debug("queued refreshes", zap.Int("count", n))
	}
}

func (f *Refresher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-f.queue:
			f.mu.Lock()
			delete(f.pending, id)
			f.mu.Unlock()
			f.Refresh(ctx, id)
		}
	}
}

// Refresh re-resolves one stored server by the key it was first resolved
// with and reports whether it still resolves.
func (f *Refresher) Refresh(ctx context.Context, id string) bool {
	d, ok := f.r.store.Lookup(id)
	if !ok {
		return false
	}
	key := refreshKey(d)
	if f.r.Resolve(ctx, Target{Address: key}) != nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if f.r.store.MarkOffline(d.ID) {
		f.log.Info("server went offline", zap.String("id", d.ID), zap.String("address", key))
	}
	return false
}

func refreshKey(d *servers.ServerDescriptor) string {
	if d.HistoricalAddress != "" {
		return d.HistoricalAddress
	}
	return d.ID
}
