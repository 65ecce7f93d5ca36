// Package dynamic fetches the JSON documents a game server publishes on its
// HTTP port.
package dynamic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrBadStatus is returned for non-200 responses.
var ErrBadStatus = errors.New("unexpected status")

// DefaultTimeout bounds one document fetch.
const DefaultTimeout = 5 * time.Second

// flexInt accepts both 48 and "48"; servers publish either.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexInt(n)
	return nil
}

// Data is dynamic.json.
type Data struct {
	Hostname   string `json:"hostname"`
	Clients    int    `json:"clients"`
	MaxClients int    `json:"sv_maxclients"`
	GameType   string `json:"gametype"`
	MapName    string `json:"mapname"`
	IconVer    string `json:"iv"`
}

func (d *Data) UnmarshalJSON(b []byte) error {
	var raw struct {
		Hostname   string  `json:"hostname"`
		Clients    flexInt `json:"clients"`
		MaxClients flexInt `json:"sv_maxclients"`
		GameType   string  `json:"gametype"`
		MapName    string  `json:"mapname"`
		IconVer    string  `json:"iv"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = Data{
		Hostname:   raw.Hostname,
		Clients:    int(raw.Clients),
		MaxClients: int(raw.MaxClients),
		GameType:   raw.GameType,
		MapName:    raw.MapName,
		IconVer:    raw.IconVer,
	}
	return nil
}

// Info is info.json.
type Info struct {
	Server      string            `json:"server"`
	Resources   []string          `json:"resources"`
	Vars        map[string]string `json:"vars"`
	IconVersion int               `json:"version"`
}

// Fetcher reads dynamic.json and info.json from a candidate base URL such as
// "https://play.example.com/".
type Fetcher struct {
	http *http.Client
}

// NewFetcher creates a Fetcher whose requests give up after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{http: &http.Client{Timeout: timeout}}
}

// Dynamic fetches base + "dynamic.json".
func (f *Fetcher) Dynamic(ctx context.Context, base string) (*Data, error) {
	var d Data
	if err := f.get(ctx, base+"dynamic.json", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Info fetches base + "info.json".
func (f *Fetcher) Info(ctx context.Context, base string) (*Info, error) {
	var i Info
	if err := f.get(ctx, base+"info.json", &i); err != nil {
		return nil, err
	}
	return &i, nil
}

func (f *Fetcher) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: %w: %d", u, ErrBadStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
