// Package resolver turns whatever a user typed into a verified server
// descriptor, trying the master list first and the server itself second.
package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"serverlink/internal/address"
	"serverlink/internal/bridge"
	"serverlink/internal/dynamic"
	"serverlink/internal/servers"
)

var errNoCandidates = errors.New("no address candidates")

// MasterList is the authoritative server list.
type MasterList interface {
	ServerByJoinID(ctx context.Context, joinID string) (*servers.ServerDescriptor, error)
	JoinIDForAddress(ctx context.Context, addr string) (string, error)
}

// DynamicSource reads the documents a server publishes over HTTP.
type DynamicSource interface {
	Dynamic(ctx context.Context, base string) (*dynamic.Data, error)
	Info(ctx context.Context, base string) (*dynamic.Info, error)
}

// LiveQuerier queries a server through the host.
type LiveQuerier interface {
	Query(ctx context.Context, addr string) (bridge.ServerQueried, error)
}

// Config tunes resolution.
type Config struct {
	// GameName is the running client's game; servers declaring another game
	// do not resolve.
	GameName       string
	JoinIDTimeout  time.Duration
	DynamicTimeout time.Duration
	// LiveTTL is how long a stored live descriptor answers without network
	// calls. Zero disables the shortcut.
	LiveTTL time.Duration
}

// DefaultConfig returns the stock timeouts.
func DefaultConfig() Config {
	return Config{
		GameName:       "gta5",
		JoinIDTimeout:  5 * time.Second,
		DynamicTimeout: 5 * time.Second,
		LiveTTL:        15 * time.Second,
	}
}

// Target is what to resolve: a raw address or a known descriptor.
type Target struct {
	Address string
	Server  *servers.ServerDescriptor
}

// Resolver owns the descriptor store and alias table it fills.
type Resolver struct {
	cfg    Config
	store  *servers.Store
	master MasterList
	dyn    DynamicSource
	live   LiveQuerier
	log    *zap.Logger
	now    func() time.Time
}

// New creates a Resolver.
func New(cfg Config, store *servers.Store, master MasterList, dyn DynamicSource, live LiveQuerier, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.JoinIDTimeout <= 0 {
		cfg.JoinIDTimeout = def.JoinIDTimeout
	}
	if cfg.DynamicTimeout <= 0 {
		cfg.DynamicTimeout = def.DynamicTimeout
	}
	return &Resolver{
		cfg:    cfg,
		store:  store,
		master: master,
		dyn:    dyn,
		live:   live,
		log:    log.Named("resolver"),
		now:    time.Now,
	}
}

// Store returns the descriptor store the resolver writes to.
func (r *Resolver) Store() *servers.Store { return r.store }

// ResolveAddress resolves a raw address. It returns nil when the address
// cannot be resolved right now.
func (r *Resolver) ResolveAddress(ctx context.Context, addr string) *servers.ServerDescriptor {
	return r.Resolve(ctx, Target{Address: addr})
}

// Resolve returns a canonical descriptor for t, or nil. Errors never escape:
// every failure either moves on to the next source or ends in nil.
func (r *Resolver) Resolve(ctx context.Context, t Target) *servers.ServerDescriptor {
	key := t.Address
	if t.Server != nil {
		if t.Server.DetailsLevel >= servers.DetailsLive {
			return t.Server
		}
		key = t.Server.ID
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	if d := r.cachedLive(key); d != nil {
		return d
	}

	parsed, ok := address.Classify(key)
	if !ok {
		r.log.Debug("unclassifiable address", zap.String("address", key))
		return nil
	}
	return r.resolveParsed(ctx, key, parsed)
}

func (r *Resolver) cachedLive(key string) *servers.ServerDescriptor {
	if r.cfg.LiveTTL <= 0 {
		return nil
	}
	d, ok := r.store.Lookup(key)
	if !ok || d.Offline || d.DetailsLevel < servers.DetailsLive {
		return nil
	}
	if r.now().Sub(d.UpdatedAt) > r.cfg.LiveTTL {
		return nil
	}
	return d
}

func (r *Resolver) resolveParsed(ctx context.Context, key string, parsed address.Parsed) *servers.ServerDescriptor {
	log := r.log.With(zap.String("address", key), zap.Stringer("kind", parsed.Kind))

	var joinID string
	switch parsed.Kind {
	case address.KindJoinID, address.KindJoinOrHost:
		joinID = parsed.ID
	default:
		joinID = r.inferJoinID(ctx, parsed.Address)
	}

	if joinID != "" {
		d, err := r.master.ServerByJoinID(ctx, joinID)
		if err == nil {
			if !parsed.IsJoinLink() {
				d.HistoricalAddress = key
			}
			return r.finish(log, key, joinID, d)
		}
		log.Debug("master list lookup failed", zap.String("join_id", joinID), zap.Error(err))

		// A join link means nothing without the master list. For an
		// ambiguous token the failure only disproves the join-id reading.
		if parsed.IsJoinLink() {
			return nil
		}
		if parsed.Kind == address.KindJoinOrHost {
			joinID = ""
		}
	}
	if parsed.IsJoinLink() {
		return nil
	}

	d := r.resolveHost(ctx, log, parsed)
	if d == nil {
		return nil
	}
	return r.finish(log, key, joinID, d)
}

func (r *Resolver) inferJoinID(ctx context.Context, addr string) string {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JoinIDTimeout)
	defer cancel()
	id, err := r.master.JoinIDForAddress(ctx, addr)
	if err != nil {
		r.log.Debug("no join id for address", zap.String("address", addr), zap.Error(err))
		return ""
	}
	return id
}

func (r *Resolver) resolveHost(ctx context.Context, log *zap.Logger, parsed address.Parsed) *servers.ServerDescriptor {
	candidates := parsed.Candidates
	if parsed.Kind == address.KindIP {
		candidates = []string{"http://" + parsed.Address + "/"}
	}

	var (
		base string
		dyn  *dynamic.Data
		err  error
	)
	if len(candidates) == 1 {
		base = candidates[0]
		dyn, err = r.fetchDynamic(ctx, base)
	} else {
		base, dyn, err = r.raceCandidates(ctx, candidates)
	}
	if err != nil {
		log.Debug("host unreachable", zap.Error(err))
		return nil
	}

	queryAddr := parsed.Address
	if parsed.Kind != address.KindIP {
		queryAddr = address.QueryAddress(base)
	}

	live, err := r.live.Query(ctx, queryAddr)
	if err == nil {
		return liveDescriptor(queryAddr, live, r.now())
	}
	log.Debug("live query failed, using dynamic data", zap.String("query", queryAddr), zap.Error(err))

	d := dynamicDescriptor(queryAddr, dyn, r.now())
	ictx, cancel := context.WithTimeout(ctx, r.cfg.DynamicTimeout)
	defer cancel()
	if info, err := r.dyn.Info(ictx, base); err == nil {
		applyInfo(d, info)
	}
	return d
}

func (r *Resolver) fetchDynamic(ctx context.Context, base string) (*dynamic.Data, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DynamicTimeout)
	defer cancel()
	return r.dyn.Dynamic(ctx, base)
}

// finish applies the game check, attaches the join id and records aliases.
func (r *Resolver) finish(log *zap.Logger, key, joinID string, d *servers.ServerDescriptor) *servers.ServerDescriptor {
	if d.GameName != "" && r.cfg.GameName != "" && !strings.EqualFold(d.GameName, r.cfg.GameName) {
		log.Debug("server is for another game", zap.String("gamename", d.GameName))
		return nil
	}

	if joinID != "" {
		d.JoinID = joinID
		r.store.RegisterAlias(joinID, d.ID)
	}
	r.store.RegisterAlias(key, d.ID)
	r.store.Upsert(d)

	log.Info("resolved server",
		zap.String("id", d.ID),
		zap.Stringer("level", d.DetailsLevel),
		zap.String("hostname", d.Hostname))
	return d
}
