// Package oidcd is the agent core: it accepts framed requests on the
// agent socket, dispatches them to handlers, and coordinates the
// registry, the flow engine, the frontend channel, and the callback
// receivers.
package oidcd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/callback"
	"github.com/alexjbarnes/oidcd/internal/config"
	"github.com/alexjbarnes/oidcd/internal/frontend"
	"github.com/alexjbarnes/oidcd/internal/ipc"
	"github.com/alexjbarnes/oidcd/internal/oidc"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// Server dispatches IPC requests. One response per request; a connection
// carries exactly one request.
type Server struct {
	cfg       *config.Config
	registry  *account.Registry
	engine    *oidc.Engine
	frontend  frontend.Channel
	callbacks *callback.Coordinator
	logger    *slog.Logger
	now       func() time.Time
}

// NewServer wires the agent core together. fe may be nil when no
// prompter is attached; autoload and credential prompts then fail as
// user cancellation, and confirmation fails as user denial.
func NewServer(cfg *config.Config, registry *account.Registry, engine *oidc.Engine, fe frontend.Channel, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		frontend: fe,
		logger:   logger,
		now:      time.Now,
	}
	s.callbacks = callback.NewCoordinator(s, cfg.RequestTimeout, logger)
	return s
}

// Callbacks exposes the callback coordinator for shutdown.
func (s *Server) Callbacks() *callback.Coordinator {
	return s.callbacks
}

// Serve accepts connections until ctx is done or the listener closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads one request, answers it, and closes the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	framer := ipc.NewFramer(conn)
	raw, err := framer.ReadMessage()
	if err != nil {
		s.logger.Debug("dropping connection", slog.Any("error", err))
		return
	}

	resp := s.Handle(ctx, raw)
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encoding response failed", slog.Any("error", err))
		payload = []byte(`{"status":"failure","error":"internal"}`)
	}
	if err := framer.WriteMessage(payload); err != nil {
		s.logger.Debug("writing response failed", slog.Any("error", err))
	}
}

// Handle processes one raw request and always produces one response; a
// panicking handler is caught here.
func (s *Server) Handle(ctx context.Context, raw []byte) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", slog.Any("panic", r))
			resp = response{Status: statusFailure, Error: "internal"}
		}
	}()

	// Each dispatch tick evicts expired accounts before any lookup.
	if reaped := s.registry.Reap(s.now()); len(reaped) > 0 {
		s.logger.Debug("reaped expired accounts", slog.Any("accounts", reaped))
	}

	if !gjson.ValidBytes(raw) {
		return response{Status: statusBadRequest, Error: "could not parse request"}
	}
	name := gjson.GetBytes(raw, "request")
	if !name.Exists() || name.String() == "" {
		return response{Status: statusBadRequest, Error: "no request type"}
	}

	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return response{Status: statusBadRequest, Error: "could not parse request: " + err.Error()}
	}

	if s.registry.Locked() && req.Request != reqUnlock {
		return response{Status: statusFailure, Error: oidcerr.ErrAgentLocked.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	s.logger.Debug("handling request", slog.String("request", req.Request))
	switch req.Request {
	case reqGen:
		return s.handleGen(ctx, &req)
	case reqAdd:
		return s.handleAdd(ctx, &req)
	case reqRemove:
		return s.handleRemove(&req)
	case reqRemoveAll:
		return s.handleRemoveAll()
	case reqDelete:
		return s.handleDelete(ctx, &req)
	case reqAccessToken:
		return s.handleAccessToken(ctx, &req)
	case reqRegister:
		return s.handleRegister(ctx, &req)
	case reqCodeExchange:
		return s.handleCodeExchange(ctx, &req)
	case reqStateLookup:
		return s.handleStateLookup(&req)
	case reqDeviceLookup:
		return s.handleDeviceLookup(ctx, &req)
	case reqTermHTTP:
		return s.handleTermHTTP(&req)
	case reqLock:
		return s.handleLock(&req)
	case reqUnlock:
		return s.handleUnlock(&req)
	case reqAccountList:
		return s.handleAccountList()
	default:
		return response{Status: statusBadRequest, Error: "unknown request type '" + req.Request + "'"}
	}
}

// errorResponse converts a handler error into the one wire response.
func errorResponse(err error) response {
	switch {
	case errors.Is(err, oidcerr.ErrBadRequest):
		return response{Status: statusBadRequest, Error: err.Error()}
	case errors.Is(err, oidcerr.ErrInternal):
		return response{Status: statusFailure, Error: "internal"}
	default:
		return response{Status: statusFailure, Error: err.Error()}
	}
}

func badRequest(msg string) response {
	return response{Status: statusBadRequest, Error: msg}
}
