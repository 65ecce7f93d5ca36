// Package session drives the single connect attempt the client may have in
// flight: resolve, hand off to the host, follow its progress events, and
// accept the final backfill.
package session

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serverlink/internal/bridge"
	"serverlink/internal/resolver"
	"serverlink/internal/servers"
)

// Resolver resolves a connect target.
type Resolver interface {
	Resolve(ctx context.Context, t resolver.Target) *servers.ServerDescriptor
}

// HistoryRecorder persists servers the client fully connected to.
type HistoryRecorder interface {
	AddHistoryServer(ctx context.Context, d *servers.ServerDescriptor, native json.RawMessage) error
}

// Token identifies one connect attempt. The host echoes it on backfill.
type Token string

// Options are the optional collaborators of a Session.
type Options struct {
	// ManualEndpoint returns a user-configured endpoint for a server id.
	ManualEndpoint func(serverID string) (string, bool)
	// NewToken mints attempt tokens. Defaults to random UUIDs.
	NewToken func() Token
	// Pick chooses an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	State      State                     `json:"state"`
	Kind       Kind                      `json:"kind"`
	Server     *servers.ServerDescriptor `json:"server,omitempty"`
	CanConnect bool                      `json:"can_connect"`
	CanCancel  bool                      `json:"can_cancel"`
}

// Session owns at most one connect attempt at a time.
type Session struct {
	resolver Resolver
	invoker  bridge.Invoker
	history  HistoryRecorder
	opts     Options
	log      *zap.Logger

	mu     sync.Mutex
	state  State
	server *servers.ServerDescriptor
	// token is the attempt a backfill must match. Nil means no backfill is
	// acceptable. It guards against a late backfill from an earlier attempt
	// completing a newer one; keep the comparison in acceptBackfill.
	token *Token
	// attempt increments on every connect and cancel so a resolution that
	// finishes after a cancel can tell it is stale.
	attempt uint64
}

// New creates an idle Session.
func New(res Resolver, inv bridge.Invoker, history HistoryRecorder, opts Options, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.NewToken == nil {
		opts.NewToken = func() Token { return Token(uuid.NewString()) }
	}
	if opts.Pick == nil {
		opts.Pick = rand.Intn
	}
	if opts.ManualEndpoint == nil {
		opts.ManualEndpoint = func(string) (string, bool) { return "", false }
	}
	return &Session{
		resolver: res,
		invoker:  inv,
		history:  history,
		opts:     opts,
		log:      log.Named("session"),
		state:    Idle{},
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:      s.state,
		Kind:       s.state.Kind(),
		Server:     s.server.Clone(),
		CanConnect: s.canConnectLocked(),
		CanCancel:  s.activeLocked() && s.canCancelLocked(),
	}
}

// CanConnect reports whether ConnectTo would start an attempt.
func (s *Session) CanConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canConnectLocked()
}

func (s *Session) canConnectLocked() bool {
	return !s.activeLocked()
}

func (s *Session) activeLocked() bool {
	_, idle := s.state.(Idle)
	return !idle || s.server != nil
}

// canCancelLocked is false only while the host marks progress as not
// cancelable.
func (s *Session) canCancelLocked() bool {
	if st, ok := s.state.(Status); ok {
		return st.Cancelable
	}
	return true
}

// ConnectTo starts an attempt for t. While another attempt is active it
// does nothing and returns false; requests are never queued. It blocks
// through resolution and the connectTo hand-off.
func (s *Session) ConnectTo(ctx context.Context, t resolver.Target) bool {
	attempt, ok := s.begin(t)
	if !ok {
		return false
	}
	s.run(ctx, t, attempt)
	return true
}

// Start is ConnectTo without the wait: the attempt slot is claimed before it
// returns, resolution and the hand-off continue in the background.
func (s *Session) Start(ctx context.Context, t resolver.Target) bool {
	attempt, ok := s.begin(t)
	if !ok {
		return false
	}
	go s.run(ctx, t, attempt)
	return true
}

func (s *Session) begin(t resolver.Target) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canConnectLocked() {
		s.log.Warn("connect ignored, an attempt is already active", zap.String("target", targetName(t)))
		return 0, false
	}
	s.attempt++
	s.state = Resolving{}
	return s.attempt, true
}

func (s *Session) run(ctx context.Context, t resolver.Target, attempt uint64) {
	s.log.Info("connecting", zap.String("target", targetName(t)))
	d := s.resolver.Resolve(ctx, t)

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		s.log.Debug("attempt canceled during resolution", zap.String("target", targetName(t)))
		return
	}
	if d == nil {
		// Unresolved targets are still handed to the host, which may reach
		// servers the resolver cannot.
		d = placeholder(t)
	}
	s.server = d
	if _, ok := s.state.(Resolving); ok {
		s.state = Connecting{}
	}
	token := s.opts.NewToken()
	s.token = &token
	endpoint := s.endpointLocked(t, d)
	s.mu.Unlock()

	if err := s.invoker.Invoke(ctx, bridge.CmdConnectTo, bridge.ConnectToArg(endpoint, string(token))); err != nil {
		s.log.Warn("connectTo failed", zap.String("endpoint", endpoint), zap.Error(err))
		s.mu.Lock()
		if s.attempt == attempt {
			s.state = Failed{Message: "Could not reach the game process: " + err.Error(), Fault: FaultYou}
			s.token = nil
		}
		s.mu.Unlock()
	}
}

func placeholder(t resolver.Target) *servers.ServerDescriptor {
	if t.Server != nil {
		return t.Server
	}
	addr := strings.TrimSpace(t.Address)
	return &servers.ServerDescriptor{ID: addr, Hostname: addr, HistoricalAddress: addr}
}

// endpointLocked picks what to hand the host: the literal address the user
// typed, else a manual endpoint, else a random advertised endpoint, else
// the join id or server id.
func (s *Session) endpointLocked(t resolver.Target, d *servers.ServerDescriptor) string {
	if t.Server == nil {
		if addr := strings.TrimSpace(t.Address); addr != "" {
			return addr
		}
	}
	if ep, ok := s.opts.ManualEndpoint(d.ID); ok && ep != "" {
		return ep
	}
	if n := len(d.ConnectEndPoints); n > 0 {
		return d.ConnectEndPoints[s.opts.Pick(n)]
	}
	if d.JoinID != "" {
		return d.JoinID
	}
	return d.ID
}

// Cancel abandons the active attempt. It returns false when nothing is
// active or the host marked the current phase as not cancelable. In-flight
// network calls are not aborted; their results are ignored.
func (s *Session) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	if !s.activeLocked() || !s.canCancelLocked() {
		s.mu.Unlock()
		return false
	}
	s.attempt++
	s.state = Idle{}
	s.server = nil
	s.token = nil
	s.mu.Unlock()

	s.log.Info("connect canceled")
	if err := s.invoker.Invoke(ctx, bridge.CmdCancelDefer, ""); err != nil {
		s.log.Warn("cancelDefer failed", zap.Error(err))
	}
	return true
}

// SubmitCard sends the user's answer to the current card back to the host.
func (s *Session) SubmitCard(ctx context.Context, data string) bool {
	s.mu.Lock()
	_, ok := s.state.(Card)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.invoker.Invoke(ctx, bridge.CmdSubmitCardResponse, data); err != nil {
		s.log.Warn("submitCardResponse failed", zap.Error(err))
		return false
	}
	return true
}

// AcceptBuildSwitch agrees to the host's pending build switch request.
func (s *Session) AcceptBuildSwitch(ctx context.Context) bool {
	s.mu.Lock()
	req, ok := s.state.(BuildSwitchRequest)
	s.mu.Unlock()
	if !ok {
		return false
	}
	arg, _ := json.Marshal(struct {
		Build     int `json:"build"`
		PureLevel int `json:"pureLevel"`
	}{req.Build, req.PureLevel})
	if err := s.invoker.Invoke(ctx, bridge.CmdSwitchBuild, string(arg)); err != nil {
		s.log.Warn("switchBuild failed", zap.Error(err))
		return false
	}
	return true
}

// HandleEvent applies one host event. Connect state events replace the
// current state outright, in arrival order.
func (s *Session) HandleEvent(ev bridge.Event) {
	if b, ok := ev.(bridge.BackfillServerInfo); ok {
		s.acceptBackfill(b)
		return
	}
	st, ok := Reduce(ev)
	if !ok {
		return
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debug("connect state", zap.String("kind", string(st.Kind())))
}

func (s *Session) acceptBackfill(b bridge.BackfillServerInfo) {
	s.mu.Lock()
	if s.token == nil || Token(b.Nonce) != *s.token {
		s.mu.Unlock()
		s.log.Debug("dropping stale backfill", zap.String("nonce", b.Nonce))
		return
	}
	server := s.server.Clone()
	s.token = nil
	s.mu.Unlock()
	if server == nil {
		return
	}

	ctx := context.Background()
	if s.history != nil {
		if err := s.history.AddHistoryServer(ctx, server, b.Server); err != nil {
			s.log.Warn("recording history failed", zap.String("server", server.ID), zap.Error(err))
		}
	}
	if err := s.invoker.Invoke(ctx, bridge.CmdBackfillDone, ""); err != nil {
		s.log.Warn("backfillDone failed", zap.Error(err))
	}
	s.log.Info("connected", zap.String("server", server.ID))
}

func targetName(t resolver.Target) string {
	if t.Server != nil {
		return t.Server.ID
	}
	return t.Address
}
