package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serverlink/internal/bridge"
	"serverlink/internal/resolver"
	"serverlink/internal/servers"
)

type stubResolver struct {
	mu      sync.Mutex
	targets []resolver.Target
	result  *servers.ServerDescriptor
	gate    chan struct{}
}

func (r *stubResolver) Resolve(ctx context.Context, t resolver.Target) *servers.ServerDescriptor {
	r.mu.Lock()
	r.targets = append(r.targets, t)
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return r.result.Clone()
}

type call struct{ name, arg string }

type recordingInvoker struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (i *recordingInvoker) Invoke(_ context.Context, name, arg string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, call{name, arg})
	return i.err
}

func (i *recordingInvoker) names() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for _, c := range i.calls {
		out = append(out, c.name)
	}
	return out
}

func (i *recordingInvoker) last() call {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls[len(i.calls)-1]
}

type historyEntry struct {
	server *servers.ServerDescriptor
	native json.RawMessage
}

type memHistory struct {
	mu      sync.Mutex
	entries []historyEntry
}

func (h *memHistory) AddHistoryServer(_ context.Context, d *servers.ServerDescriptor, native json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, historyEntry{d, native})
	return nil
}

type harness struct {
	res     *stubResolver
	inv     *recordingInvoker
	history *memHistory
	s       *Session
}

func newHarness(opts Options) *harness {
	h := &harness{
		res:     &stubResolver{result: &servers.ServerDescriptor{ID: "abcd12", JoinID: "abcd12", ConnectEndPoints: []string{"203.0.113.5:30120", "203.0.113.6:30120"}}},
		inv:     &recordingInvoker{},
		history: &memHistory{},
	}
	if opts.NewToken == nil {
		n := 0
		opts.NewToken = func() Token {
			n++
			return Token("nonce-" + string(rune('0'+n)))
		}
	}
	if opts.Pick == nil {
		opts.Pick = func(n int) int { return n - 1 }
	}
	h.s = New(h.res, h.inv, h.history, opts, nil)
	return h
}

func TestConnectToDispatchesConnect(t *testing.T) {
	h := newHarness(Options{})
	ctx := context.Background()

	require.True(t, h.s.ConnectTo(ctx, resolver.Target{Server: &servers.ServerDescriptor{ID: "abcd12"}}))

	snap := h.s.Snapshot()
	assert.Equal(t, KindConnecting, snap.Kind)
	require.NotNil(t, snap.Server)
	assert.Equal(t, "abcd12", snap.Server.ID)
	assert.False(t, snap.CanConnect)
	assert.True(t, snap.CanCancel)
	assert.Equal(t, call{bridge.CmdConnectTo, `["203.0.113.6:30120","nonce-1"]`}, h.inv.last())
}

func TestEndpointSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("literal address wins", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.ConnectTo(ctx, resolver.Target{Address: " play.example.com "})
		assert.Equal(t, `["play.example.com","nonce-1"]`, h.inv.last().arg)
	})

	t.Run("manual endpoint", func(t *testing.T) {
		h := newHarness(Options{ManualEndpoint: func(id string) (string, bool) {
			return "10.0.0.1:30120", id == "abcd12"
		}})
		h.s.ConnectTo(ctx, resolver.Target{Server: &servers.ServerDescriptor{ID: "abcd12"}})
		assert.Equal(t, `["10.0.0.1:30120","nonce-1"]`, h.inv.last().arg)
	})

	t.Run("join id without endpoints", func(t *testing.T) {
		h := newHarness(Options{})
		h.res.result = &servers.ServerDescriptor{ID: "x", JoinID: "abcd12"}
		h.s.ConnectTo(ctx, resolver.Target{Server: &servers.ServerDescriptor{ID: "x"}})
		assert.Equal(t, `["abcd12","nonce-1"]`, h.inv.last().arg)
	})

	t.Run("unresolved address still attempted", func(t *testing.T) {
		h := newHarness(Options{})
		h.res.result = nil
		require.True(t, h.s.ConnectTo(ctx, resolver.Target{Address: "10.1.1.1:30120"}))
		assert.Equal(t, "10.1.1.1:30120", h.s.Snapshot().Server.ID)
		assert.Equal(t, `["10.1.1.1:30120","nonce-1"]`, h.inv.last().arg)
	})
}

func TestSingleActiveSession(t *testing.T) {
	h := newHarness(Options{})
	h.res.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- h.s.ConnectTo(ctx, resolver.Target{Address: "a.example.com"}) }()
	require.Eventually(t, func() bool { return h.s.Snapshot().Kind == KindResolving }, time.Second, time.Millisecond)

	assert.False(t, h.s.ConnectTo(ctx, resolver.Target{Address: "b.example.com"}))

	close(h.res.gate)
	assert.True(t, <-done)

	require.Len(t, h.res.targets, 1)
	assert.Equal(t, "a.example.com", h.res.targets[0].Address)
	assert.Equal(t, []string{bridge.CmdConnectTo}, h.inv.names())
	assert.Equal(t, `["a.example.com","nonce-1"]`, h.inv.last().arg)
}

func TestStartClaimsAttemptBeforeReturning(t *testing.T) {
	h := newHarness(Options{})
	h.res.gate = make(chan struct{})
	ctx := context.Background()

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.s.Start(ctx, resolver.Target{Address: "a.example.com"}) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, KindResolving, h.s.Snapshot().Kind)

	close(h.res.gate)
	require.Eventually(t, func() bool { return len(h.inv.names()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, KindConnecting, h.s.Snapshot().Kind)
}

func TestCancelDuringResolution(t *testing.T) {
	h := newHarness(Options{})
	h.res.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- h.s.ConnectTo(ctx, resolver.Target{Address: "a.example.com"}) }()
	require.Eventually(t, func() bool { return h.s.Snapshot().Kind == KindResolving }, time.Second, time.Millisecond)

	require.True(t, h.s.Cancel(ctx))
	close(h.res.gate)
	<-done

	snap := h.s.Snapshot()
	assert.Equal(t, KindIdle, snap.Kind)
	assert.Nil(t, snap.Server)
	assert.Equal(t, []string{bridge.CmdCancelDefer}, h.inv.names())
}

func TestNativeStateBeforeResolutionIsKept(t *testing.T) {
	h := newHarness(Options{})
	h.res.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- h.s.ConnectTo(ctx, resolver.Target{Address: "a.example.com"}) }()
	require.Eventually(t, func() bool { return h.s.Snapshot().Kind == KindResolving }, time.Second, time.Millisecond)

	h.s.HandleEvent(bridge.ConnectStatus{Message: "Early", Cancelable: true})
	close(h.res.gate)
	<-done

	assert.Equal(t, Status{Message: "Early", Cancelable: true}, h.s.Snapshot().State)
}

func TestCancelability(t *testing.T) {
	ctx := context.Background()

	t.Run("not cancelable status", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.ConnectTo(ctx, resolver.Target{Address: "a"})
		h.s.HandleEvent(bridge.ConnectStatus{Message: "Committing", Count: 1, Total: 2, Cancelable: false})

		assert.False(t, h.s.Snapshot().CanCancel)
		assert.False(t, h.s.Cancel(ctx))
		assert.Equal(t, Status{Message: "Committing", Count: 1, Total: 2}, h.s.Snapshot().State)
		assert.NotContains(t, h.inv.names(), bridge.CmdCancelDefer)
	})

	t.Run("cancelable status", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.ConnectTo(ctx, resolver.Target{Address: "a"})
		h.s.HandleEvent(bridge.ConnectStatus{Message: "Loading", Cancelable: true})

		require.True(t, h.s.Cancel(ctx))
		snap := h.s.Snapshot()
		assert.Equal(t, KindIdle, snap.Kind)
		assert.Nil(t, snap.Server)
		assert.True(t, snap.CanConnect)
		assert.Equal(t, bridge.CmdCancelDefer, h.inv.last().name)
	})

	t.Run("idle has nothing to cancel", func(t *testing.T) {
		h := newHarness(Options{})
		assert.False(t, h.s.Cancel(ctx))
		assert.Empty(t, h.inv.names())
	})

	t.Run("failure is dismissed by cancel", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.ConnectTo(ctx, resolver.Target{Address: "a"})
		h.s.HandleEvent(bridge.ConnectFailed{Message: "nope"})
		assert.False(t, h.s.CanConnect())

		require.True(t, h.s.Cancel(ctx))
		assert.True(t, h.s.CanConnect())
	})
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()

	t.Run("matching nonce records history", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.ConnectTo(ctx, resolver.Target{Address: "a"})
		h.s.HandleEvent(bridge.ConnectStatus{Message: "Loading", Cancelable: true})

		h.s.HandleEvent(bridge.BackfillServerInfo{Nonce: "nonce-1", Server: json.RawMessage(`{"h":1}`)})

		require.Len(t, h.history.entries, 1)
		assert.Equal(t, "abcd12", h.history.entries[0].server.ID)
		assert.JSONEq(t, `{"h":1}`, string(h.history.entries[0].native))
		assert.Equal(t, bridge.CmdBackfillDone, h.inv.last().name)
		assert.Equal(t, KindStatus, h.s.Snapshot().Kind, "state is left for the host to finish")

		// the token is spent
		h.s.HandleEvent(bridge.BackfillServerInfo{Nonce: "nonce-1"})
		assert.Len(t, h.history.entries, 1)
	})

	t.Run("stale nonce ignored", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.ConnectTo(ctx, resolver.Target{Address: "a"})
		h.s.Cancel(ctx)
		h.s.ConnectTo(ctx, resolver.Target{Address: "b"})
		h.s.HandleEvent(bridge.ConnectStatus{Message: "Loading", Cancelable: true})
		before := h.s.Snapshot()
		calls := len(h.inv.names())

		h.s.HandleEvent(bridge.BackfillServerInfo{Nonce: "nonce-1"})

		assert.Empty(t, h.history.entries)
		assert.Equal(t, before, h.s.Snapshot())
		assert.Len(t, h.inv.names(), calls)

		h.s.HandleEvent(bridge.BackfillServerInfo{Nonce: "nonce-2"})
		assert.Len(t, h.history.entries, 1)
	})

	t.Run("no attempt", func(t *testing.T) {
		h := newHarness(Options{})
		h.s.HandleEvent(bridge.BackfillServerInfo{Nonce: ""})
		assert.Empty(t, h.history.entries)
		assert.Empty(t, h.inv.names())
	})
}

func TestConnectInvokeFailure(t *testing.T) {
	h := newHarness(Options{})
	h.inv.err = errors.New("pipe closed")

	require.True(t, h.s.ConnectTo(context.Background(), resolver.Target{Address: "a"}))
	st, ok := h.s.Snapshot().State.(Failed)
	require.True(t, ok)
	assert.Equal(t, FaultYou, st.Fault)

	h.s.HandleEvent(bridge.BackfillServerInfo{Nonce: "nonce-1"})
	assert.Empty(t, h.history.entries)
}

func TestInteractiveResponses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Options{})
	h.s.ConnectTo(ctx, resolver.Target{Address: "a"})

	assert.False(t, h.s.SubmitCard(ctx, `{}`))

	h.s.HandleEvent(bridge.ConnectCard{Card: `{"type":"AdaptiveCard"}`})
	require.True(t, h.s.SubmitCard(ctx, `{"action":"ok"}`))
	assert.Equal(t, call{bridge.CmdSubmitCardResponse, `{"action":"ok"}`}, h.inv.last())

	h.s.HandleEvent(bridge.ConnectBuildSwitchRequest{Build: 2944, PureLevel: 1, CurrentBuild: 1604})
	require.True(t, h.s.AcceptBuildSwitch(ctx))
	assert.Equal(t, call{bridge.CmdSwitchBuild, `{"build":2944,"pureLevel":1}`}, h.inv.last())
}
