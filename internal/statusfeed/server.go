// Package statusfeed exposes the controller to a UI over HTTP and WebSocket.
package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"remoteview/native/internal/domain"
	"remoteview/native/internal/link"
	"remoteview/native/internal/viewer"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultPingInterval is used when Options.PingInterval is zero.
const DefaultPingInterval = 30 * time.Second

// Controller is the part of viewer.Controller the feed drives.
type Controller interface {
	Snapshot() viewer.Snapshot
	Subscribe() (<-chan viewer.Snapshot, func())
	SetLink(url.Values) error
	Connect() error
	Disconnect()
}

// Options configures a Server.
type Options struct {
	PingInterval time.Duration
	Log          zerolog.Logger
}

// Server serves snapshots and accepts connect, disconnect and link commands.
type Server struct {
	ctrl     Controller
	ping     time.Duration
	log      zerolog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

type linkRequest struct {
	Link string `json:"link"`
}

// New builds a Server around ctrl.
func New(ctrl Controller, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	s := &Server{
		ctrl: ctrl,
		ping: opts.PingInterval,
		log:  opts.Log.With().Str("module", "statusfeed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	// Routes live on the root router so a method mismatch answers 405.
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/ws", s.handleStatusWS).Methods(http.MethodGet)
	r.HandleFunc("/api/connect", s.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/api/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/link", s.handleLink).Methods(http.MethodPost)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorResponse{Error: "method not allowed"})
	})
	r.Use(s.logRequests)
	s.router = r
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("status feed listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("status feed shutdown")
		}
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Connect()
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case viewer.IsRefusal(err):
		writeJSON(w, http.StatusConflict, domain.ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
		return
	}
	q, err := link.Query(req.Link)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.ctrl.SetLink(q); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	snaps, unsubscribe := s.ctrl.Subscribe()
	c := newConn(ws, s.log.With().Str("remote", r.RemoteAddr).Logger())
	defer c.Close()
	defer unsubscribe()

	go c.readLoop()
	go c.pingLoop(s.ping)

	c.log.Debug().Msg("subscriber attached")
	for {
		select {
		case <-c.closed:
			c.log.Debug().Msg("subscriber left")
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				c.sendClose()
				return
			}
			if err := c.sendJSON(snap); err != nil {
				return
			}
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
