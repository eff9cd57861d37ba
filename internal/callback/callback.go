// Package callback runs the embedded HTTP receivers that catch the
// browser redirect of the authorization-code flow. One receiver serves
// exactly one state; it is started when the flow is initiated and torn
// down by term_http, by shutdown, or after the redirect arrived.
package callback

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Exchanger finalizes a code flow when the redirect arrives. The
// dispatcher implements it on top of the flow engine and the registry.
type Exchanger interface {
	ExchangeForState(ctx context.Context, state, code, redirectURI string) error
}

const successPage = `<!DOCTYPE html>
<html><head><title>oidcd</title></head>
<body><h1>Success</h1>
<p>The account was configured. You can close this window.</p>
</body></html>`

const errorPage = `<!DOCTYPE html>
<html><head><title>oidcd</title></head>
<body><h1>Authorization failed</h1>
<p>%s</p>
</body></html>`

// receiver is one single-shot HTTP server bound to the host and port of
// a redirect URI.
type receiver struct {
	state       string
	redirectURI string
	path        string
	server      *http.Server
	listener    net.Listener
	once        sync.Once
}

// Coordinator tracks the live receivers keyed by state.
type Coordinator struct {
	mu        sync.Mutex
	receivers map[string]*receiver

	exchanger       Exchanger
	exchangeTimeout time.Duration
	logger          *slog.Logger
}

// NewCoordinator creates a coordinator. exchangeTimeout bounds the token
// round trip a redirect triggers.
func NewCoordinator(exchanger Exchanger, exchangeTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		receivers:       make(map[string]*receiver),
		exchanger:       exchanger,
		exchangeTimeout: exchangeTimeout,
		logger:          logger,
	}
}

// Start brings up the receiver for a state on the address of the given
// redirect URI. At most one receiver per state; a state with a live
// receiver is rejected.
func (c *Coordinator) Start(state, redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme != "http" || u.Host == "" {
		return fmt.Errorf("redirect uri %q is not a usable http address", redirectURI)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, live := c.receivers[state]; live {
		return fmt.Errorf("a callback receiver for this state is already running")
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	listener, err := net.Listen("tcp", host)
	if err != nil {
		return fmt.Errorf("binding callback receiver on %s: %w", host, err)
	}

	rc := &receiver{
		state:       state,
		redirectURI: redirectURI,
		path:        u.Path,
		listener:    listener,
	}
	rc.server = &http.Server{
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { c.handle(rc, w, r) }),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := rc.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			c.logger.Warn("callback receiver failed", slog.String("state", state), slog.Any("error", err))
		}
	}()

	c.receivers[state] = rc
	c.logger.Debug("callback receiver listening", slog.String("addr", host), slog.String("state", state))
	return nil
}

// handle processes the browser redirect. Only the first matching request
// does anything; the receiver is torn down afterwards.
func (c *Coordinator) handle(rc *receiver, w http.ResponseWriter, r *http.Request) {
	if rc.path != "" && rc.path != "/" && r.URL.Path != rc.path {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Get("state") != rc.state {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	handled := false
	rc.once.Do(func() {
		handled = true
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")

		if errCode := q.Get("error"); errCode != "" {
			desc := q.Get("error_description")
			if desc == "" {
				desc = errCode
			}
			fmt.Fprintf(w, errorPage, desc)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), c.exchangeTimeout)
			defer cancel()
			if err := c.exchanger.ExchangeForState(ctx, rc.state, q.Get("code"), rc.redirectURI); err != nil {
				c.logger.Warn("code exchange from callback failed",
					slog.String("state", rc.state), slog.Any("error", err))
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprintf(w, errorPage, "the agent could not exchange the authorization code")
			} else {
				fmt.Fprint(w, successPage)
			}
		}

		// Let the response flush, then tear down.
		go func() {
			time.Sleep(time.Second)
			c.Term(rc.state)
		}()
	})

	if !handled {
		http.Error(w, "callback already processed", http.StatusBadRequest)
	}
}

// Term shuts the receiver for a state down. Returns true if one was
// running.
func (c *Coordinator) Term(state string) bool {
	c.mu.Lock()
	rc, ok := c.receivers[state]
	delete(c.receivers, state)
	c.mu.Unlock()

	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = rc.server.Shutdown(ctx)
	_ = rc.listener.Close()

	c.logger.Debug("callback receiver terminated", slog.String("state", state))
	return true
}

// TermAll tears every receiver down; used on shutdown.
func (c *Coordinator) TermAll() {
	c.mu.Lock()
	states := make([]string, 0, len(c.receivers))
	for state := range c.receivers {
		states = append(states, state)
	}
	c.mu.Unlock()

	for _, state := range states {
		c.Term(state)
	}
}
