package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"serverlink/internal/config"
	"serverlink/internal/resolver"
	"serverlink/internal/servers"
	"serverlink/internal/session"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	cfg.QueryTimeout = 300 * time.Millisecond
	cfg.JoinIDTimeout = time.Second
	cfg.DynamicTimeout = time.Second
	return cfg
}

func TestValidateApp(t *testing.T) {
	require.NoError(t, fx.ValidateApp(fx.Supply(config.Default()), Module, fx.NopLogger))
}

func TestCoreResolvesOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dynamic.json" {
			_, _ = w.Write([]byte(`{"hostname":"Local RP","clients":4,"sv_maxclients":"32","gametype":"rp","mapname":"city"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.MasterURL = srv.URL

	var res *resolver.Resolver
	app := fxtest.New(t, fx.Supply(cfg), Core, fx.NopLogger, fx.Populate(&res))
	app.RequireStart()
	defer app.RequireStop()

	addr := strings.TrimPrefix(srv.URL, "http://")
	d := res.ResolveAddress(context.Background(), addr)
	require.NotNil(t, d)
	assert.Equal(t, addr, d.ID)
	assert.Equal(t, "Local RP", d.Hostname)
	assert.Equal(t, 32, d.PlayersMax)
	assert.Equal(t, servers.DetailsDynamicJSON, d.DetailsLevel)

	_, ok := res.Store().Lookup(addr)
	assert.True(t, ok)
}

func TestServiceStartsIdle(t *testing.T) {
	var s *session.Session
	app := fxtest.New(t, fx.Supply(testConfig(t)), Module, fx.NopLogger, fx.Populate(&s))
	app.RequireStart()
	defer app.RequireStop()

	snap := s.Snapshot()
	assert.Equal(t, session.KindIdle, snap.Kind)
	assert.True(t, snap.CanConnect)
}
