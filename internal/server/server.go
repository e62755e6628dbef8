// Package server exposes list sessions over WebSocket.
//
// Every connection runs a read pump that turns client events into
// coordinator calls and a write pump that drains a bounded outbound buffer.
// Room broadcasts reach a connection through its pub/sub subscription.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/registry"
	"github.com/roach88/listsync/internal/wire"
)

// Defaults for connection upkeep.
const (
	DefaultOutboundBuffer = 256
	DefaultWriteWait      = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultMaxMessageSize = 1 << 20
)

// Storage is the read side the HTTP endpoints need.
type Storage interface {
	IsMember(ctx context.Context, listID, userID string) (bool, error)
	ReadList(ctx context.Context, listID string) (model.ListState, error)
	Ping(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithOutboundBuffer sets how many messages may wait for a slow client
// before its connection is dropped.
func WithOutboundBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.outbound = n
		}
	}
}

// WithPongWait sets how long a connection may stay silent. Pings are sent at
// nine tenths of this interval.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(f func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = f
	}
}

// WithIDGenerator overrides how connection ids are minted.
func WithIDGenerator(f func() string) Option {
	return func(s *Server) {
		s.newID = f
	}
}

// Server serves the list event protocol.
type Server struct {
	registry *registry.Registry
	bus      pubsub.Bus
	storage  Storage
	logger   *slog.Logger
	upgrader websocket.Upgrader
	outbound int
	pongWait time.Duration
	newID    func() string

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

// New creates a server over a running registry.
func New(reg *registry.Registry, bus pubsub.Bus, storage Storage, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		bus:      bus,
		storage:  storage,
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		outbound: DefaultOutboundBuffer,
		pongWait: DefaultPongWait,
		newID:    newConnectionID,
		conns:    make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newConnectionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Handler returns the HTTP routes:
//
//	GET /ws               WebSocket event protocol
//	GET /healthz          storage reachability
//	GET /lists/{listID}   read-only list snapshot for ?userId=<member>
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWS)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/lists/{listID}").HandlerFunc(s.getList)
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Debug("handled", "method", r.Method, "url", r.URL.String(), "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["listID"]
	userID := r.URL.Query().Get("userId")

	// Membership first, as for join: non-members learn nothing about the list.
	member, err := s.storage.IsMember(r.Context(), listID, userID)
	if err != nil {
		s.logger.Error("membership check", "list", listID, "error", err)
		writeJSON(w, http.StatusInternalServerError, wire.Error{Error: "could not check membership", Kind: model.KindPersistenceFailure})
		return
	}
	if userID == "" || !member {
		err := model.NewError(model.KindAccessDenied, "user %q is not a member of list %q", userID, listID)
		writeJSON(w, http.StatusForbidden, wire.ErrorFor(err))
		return
	}

	state, err := s.storage.ReadList(r.Context(), listID)
	switch {
	case model.IsKind(err, model.KindUnknownList):
		writeJSON(w, http.StatusNotFound, wire.ErrorFor(err))
		return
	case err != nil:
		s.logger.Error("read list", "list", listID, "error", err)
		writeJSON(w, http.StatusInternalServerError, wire.Error{Error: "could not read list", Kind: model.KindPersistenceFailure})
		return
	}
	writeJSON(w, http.StatusOK, wire.ListView{
		ID:       state.ListID,
		Title:    state.Title,
		Products: state.Products,
		EditLog:  state.EditLog,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := newConn(s, ws, s.newID())
	if !s.track(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(DefaultWriteWait))
		_ = ws.Close()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(c)
		c.run()
	}()
}

// track returns false once Shutdown has started.
func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every connection and waits for their cleanup until ctx is
// done. New upgrades are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errSlowConsumer = errors.New("server: outbound buffer full")
