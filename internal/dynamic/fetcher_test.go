package dynamic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dynamic.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"clients":5,"gametype":"rp","hostname":"Test","iv":"12","mapname":"city","sv_maxclients":"48"}`))
	})
	mux.HandleFunc("/info.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"server":"FXServer-master","resources":["a","b"],"vars":{"gamename":"gta5"},"version":12}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(time.Second)
	ctx := context.Background()

	d, err := f.Dynamic(ctx, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, &Data{Hostname: "Test", Clients: 5, MaxClients: 48, GameType: "rp", MapName: "city", IconVer: "12"}, d)

	i, err := f.Info(ctx, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "FXServer-master", i.Server)
	assert.Equal(t, []string{"a", "b"}, i.Resources)
	assert.Equal(t, "gta5", i.Vars["gamename"])

	_, err = f.Dynamic(ctx, srv.URL+"/missing/")
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestFetcherTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	f := NewFetcher(50 * time.Millisecond)
	_, err := f.Dynamic(context.Background(), srv.URL+"/")
	assert.Error(t, err)
}
