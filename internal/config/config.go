// Package config holds serverlink's runtime settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"serverlink/internal/dynamic"
	"serverlink/internal/master"
	"serverlink/internal/query"
	"serverlink/internal/resolver"
)

const envPrefix = "SERVERLINK_"

type Config struct {
	ListenAddr string
	GameName   string
	MasterURL  string
	// BridgeURL is the host's WebSocket endpoint. Empty runs the local UDP
	// stand-in instead.
	BridgeURL   string
	HistoryPath string
	LogLevel    string
	LogFormat   string

	JoinIDTimeout   time.Duration
	DynamicTimeout  time.Duration
	QueryTimeout    time.Duration
	LiveTTL         time.Duration
	StaleAfter      time.Duration
	JanitorInterval time.Duration
	// RefreshInterval is how often stored servers are re-resolved. Zero
	// disables background refresh.
	RefreshInterval time.Duration
	RefreshWorkers  int
	// QueryRate caps outbound getinfo probes per second on the local host.
	QueryRate float64

	ManualEndpoints map[string]string
}

func Default() Config {
	rc := resolver.DefaultConfig()
	return Config{
		ListenAddr:      ":8080",
		GameName:        rc.GameName,
		MasterURL:       master.DefaultURL,
		HistoryPath:     "serverlink.db",
		LogLevel:        "info",
		LogFormat:       "console",
		JoinIDTimeout:   rc.JoinIDTimeout,
		DynamicTimeout:  dynamic.DefaultTimeout,
		QueryTimeout:    query.DefaultTimeout,
		LiveTTL:         rc.LiveTTL,
		StaleAfter:      2 * time.Minute,
		JanitorInterval: 30 * time.Second,
		RefreshInterval: time.Minute,
		RefreshWorkers:  4,
		QueryRate:       20,
		ManualEndpoints: map[string]string{},
	}
}

// FromEnv returns Default overlaid with the environment. PORT sets the
// listen port; SERVERLINK_* variables set the rest.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if p, ok := lookup("PORT"); ok && p != "" {
		c.ListenAddr = ":" + p
	}

	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN", &c.ListenAddr)
	str("GAME", &c.GameName)
	str("MASTER_URL", &c.MasterURL)
	str("BRIDGE_URL", &c.BridgeURL)
	str("HISTORY_PATH", &c.HistoryPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"JOIN_ID_TIMEOUT", &c.JoinIDTimeout},
		{"DYNAMIC_TIMEOUT", &c.DynamicTimeout},
		{"QUERY_TIMEOUT", &c.QueryTimeout},
		{"LIVE_TTL", &c.LiveTTL},
		{"STALE_AFTER", &c.StaleAfter},
		{"JANITOR_INTERVAL", &c.JanitorInterval},
		{"REFRESH_INTERVAL", &c.RefreshInterval},
	}
	for _, d := range durations {
		v, ok := lookup(envPrefix + d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("%s%s: %w", envPrefix, d.name, err)
		}
		*d.dst = parsed
	}

	if v, ok := lookup(envPrefix + "QUERY_RATE"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, fmt.Errorf("%sQUERY_RATE: %w", envPrefix, err)
		}
		c.QueryRate = r
	}
	if v, ok := lookup(envPrefix + "MANUAL_ENDPOINTS"); ok && v != "" {
		m, err := ParseEndpoints(v)
		if err != nil {
			return c, err
		}
		c.ManualEndpoints = m
	}
	return c, nil
}

// ParseEndpoints reads "id=endpoint,id2=endpoint2".
func ParseEndpoints(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, ep, ok := strings.Cut(pair, "=")
		id, ep = strings.TrimSpace(id), strings.TrimSpace(ep)
		if !ok || id == "" || ep == "" {
			return nil, fmt.Errorf("manual endpoint %q: want id=endpoint", pair)
		}
		out[id] = ep
	}
	return out, nil
}

// Resolver returns the resolver settings.
func (c Config) Resolver() resolver.Config {
	return resolver.Config{
		GameName:       c.GameName,
		JoinIDTimeout:  c.JoinIDTimeout,
		DynamicTimeout: c.DynamicTimeout,
		LiveTTL:        c.LiveTTL,
	}
}

// ManualEndpoint looks up a configured endpoint for a server id.
func (c Config) ManualEndpoint(serverID string) (string, bool) {
	ep, ok := c.ManualEndpoints[serverID]
	return ep, ok
}
