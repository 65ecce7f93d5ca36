// Package master talks to the master server list over HTTP.
package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"serverlink/internal/servers"
)

var (
	// ErrNotFound is returned when the master list has no such server.
	ErrNotFound = errors.New("server not listed")
	// ErrBadStatus is returned for unexpected HTTP status codes.
	ErrBadStatus = errors.New("unexpected master list status")
)

// DefaultURL is the public master list frontend.
const DefaultURL = "https://servers-frontend.fivem.net"

// Client queries single entries of the master list.
type Client struct {
	base      string
	http      *http.Client
	joinCache *expirable.LRU[string, string]
	log       *zap.Logger
}

// NewClient creates a Client for the master list at base.
func NewClient(base string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if base == "" {
		base = DefaultURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:      strings.TrimSuffix(base, "/"),
		http:      &http.Client{Timeout: timeout},
		joinCache: expirable.NewLRU[string, string](1024, nil, 5*time.Minute),
		log:       log.Named("master"),
	}
}

type entryData struct {
	Hostname         string            `json:"hostname"`
	Clients          int               `json:"clients"`
	MaxClients       int               `json:"sv_maxclients"`
	GameType         string            `json:"gametype"`
	MapName          string            `json:"mapname"`
	Server           string            `json:"server"`
	Resources        []string          `json:"resources"`
	IconVersion      int               `json:"iconVersion"`
	Vars             map[string]string `json:"vars"`
	ConnectEndPoints []string          `json:"connectEndPoints"`
	Fallback         bool              `json:"fallback"`
}

type entry struct {
	EndPoint string    `json:"EndPoint"`
	Data     entryData `json:"Data"`
}

// ServerByJoinID fetches the full master list entry for a join id.
func (c *Client) ServerByJoinID(ctx context.Context, joinID string) (*servers.ServerDescriptor, error) {
	var e entry
	if err := c.getJSON(ctx, "/api/servers/single/"+url.PathEscape(joinID), &e); err != nil {
		return nil, fmt.Errorf("master entry %s: %w", joinID, err)
	}
	if e.EndPoint == "" {
		return nil, fmt.Errorf("master entry %s: %w", joinID, ErrNotFound)
	}
	return entryToDescriptor(e), nil
}

// JoinIDForAddress asks the master list which join id serves addr. Hits are
// cached for a few minutes.
func (c *Client) JoinIDForAddress(ctx context.Context, addr string) (string, error) {
	if id, ok := c.joinCache.Get(addr); ok {
		return id, nil
	}
	var resp struct {
		JoinID string `json:"joinId"`
	}
	if err := c.getJSON(ctx, "/api/servers/address/"+url.PathEscape(addr), &resp); err != nil {
		return "", fmt.Errorf("join id for %s: %w", addr, err)
	}
	if resp.JoinID == "" {
		return "", fmt.Errorf("join id for %s: %w", addr, ErrNotFound)
	}
	c.joinCache.Add(addr, resp.JoinID)
	return resp.JoinID, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func entryToDescriptor(e entry) *servers.ServerDescriptor {
	d := &servers.ServerDescriptor{
		ID:               e.EndPoint,
		JoinID:           e.EndPoint,
		DetailsLevel:     servers.DetailsMasterListFull,
		Hostname:         e.Data.Hostname,
		PlayersCurrent:   e.Data.Clients,
		PlayersMax:       e.Data.MaxClients,
		GameType:         e.Data.GameType,
		MapName:          e.Data.MapName,
		Server:           e.Data.Server,
		Resources:        e.Data.Resources,
		IconVersion:      e.Data.IconVersion,
		RawVariables:     e.Data.Vars,
		ConnectEndPoints: e.Data.ConnectEndPoints,
		Offline:          e.Data.Fallback,
	}
	if e.Data.Vars != nil {
		d.ProjectName = e.Data.Vars["sv_projectName"]
		d.ProjectDescription = e.Data.Vars["sv_projectDesc"]
		d.GameName = e.Data.Vars["gamename"]
	}
	return d
}
