// Package httpapi is the local JSON control surface: browse known servers,
// resolve addresses, and drive the connect session.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"serverlink/internal/history"
	"serverlink/internal/resolver"
	"serverlink/internal/servers"
	"serverlink/internal/session"
)

// Resolver answers ad hoc address lookups.
type Resolver interface {
	ResolveAddress(ctx context.Context, addr string) *servers.ServerDescriptor
}

// ServerStore is the read side of the server cache.
type ServerStore interface {
	List() []*servers.ServerDescriptor
	Lookup(key string) (*servers.ServerDescriptor, bool)
}

// Session is the connect attempt the routes drive. Start must claim the
// attempt atomically and return without waiting for resolution.
type Session interface {
	Snapshot() session.Snapshot
	Start(ctx context.Context, t resolver.Target) bool
	Cancel(ctx context.Context) bool
	SubmitCard(ctx context.Context, data string) bool
	AcceptBuildSwitch(ctx context.Context) bool
}

// History lists recently joined servers.
type History interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Resolver Resolver
	Store    ServerStore
	Session  Session
	History  History
}

type api struct {
	Deps
	log *zap.Logger
}

// NewHandler builds the routed, CORS-enabled handler.
func NewHandler(d Deps, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	a := &api{Deps: d, log: log.Named("httpapi")}
	return WithCORS(a.router())
}

func (a *api) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.logRequests)

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/servers", a.listServers).Methods(http.MethodGet)
	sub.HandleFunc("/servers/{id}", a.getServer).Methods(http.MethodGet)
	sub.HandleFunc("/resolve", a.resolve).Methods(http.MethodGet)
	sub.HandleFunc("/session", a.getSession).Methods(http.MethodGet)
	sub.HandleFunc("/session/connect", a.connectSession).Methods(http.MethodPost)
	sub.HandleFunc("/session/cancel", a.cancelSession).Methods(http.MethodPost)
	sub.HandleFunc("/session/card", a.submitCard).Methods(http.MethodPost)
	sub.HandleFunc("/session/build-switch", a.acceptBuildSwitch).Methods(http.MethodPost)
	sub.HandleFunc("/history", a.listHistory).Methods(http.MethodGet)
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func (a *api) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Store.List())
}

func (a *api) getServer(w http.ResponseWriter, r *http.Request) {
	d, ok := a.Store.Lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) resolve(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	d := a.Resolver.ResolveAddress(r.Context(), addr)
	if d == nil {
		writeError(w, http.StatusNotFound, "invalid or offline address")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Session.Snapshot())
}

type connectRequest struct {
	Address  string `json:"address"`
	ServerID string `json:"server_id"`
}

// connectSession starts an attempt and returns at once; progress is read
// back through GET /api/session.
func (a *api) connectSession(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var t resolver.Target
	switch {
	case req.ServerID != "":
		d, ok := a.Store.Lookup(req.ServerID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown server")
			return
		}
		t.Server = d
	case strings.TrimSpace(req.Address) != "":
		t.Address = req.Address
	default:
		writeError(w, http.StatusBadRequest, "address or server_id is required")
		return
	}
	// The attempt outlives the request.
	if !a.Session.Start(context.Background(), t) {
		writeError(w, http.StatusConflict, "a connect attempt is already active")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (a *api) cancelSession(w http.ResponseWriter, r *http.Request) {
	if !a.Session.Cancel(r.Context()) {
		writeError(w, http.StatusConflict, "nothing cancelable")
		return
	}
	writeJSON(w, http.StatusOK, a.Session.Snapshot())
}

func (a *api) submitCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	data := string(req.Data)
	// a JSON string is passed through unquoted
	var s string
	if json.Unmarshal(req.Data, &s) == nil {
		data = s
	}
	if !a.Session.SubmitCard(r.Context(), data) {
		writeError(w, http.StatusConflict, "no card is showing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (a *api) acceptBuildSwitch(w http.ResponseWriter, r *http.Request) {
	if !a.Session.AcceptBuildSwitch(r.Context()) {
		writeError(w, http.StatusConflict, "no build switch pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (a *api) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	items, err := a.History.List(r.Context(), limit)
	if err != nil {
		a.log.Warn("listing history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
