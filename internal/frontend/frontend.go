// Package frontend implements the agent side of the channel to the
// out-of-process prompter. The agent initiates requests on it while a
// client request is in flight; at most one such request is outstanding
// at a time.
package frontend

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexjbarnes/oidcd/internal/ipc"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// Request verbs the agent sends to the frontend.
const (
	RequestAutoload    = "INT_REQUEST_AUTOLOAD"
	RequestConfirm     = "INT_REQUEST_CONFIRM"
	RequestCredentials = "INT_REQUEST_CREDENTIALS"
)

// Channel is what handlers use to reach the user mid-request. The
// dispatcher owns one implementation backed by the prompter pipe pair;
// tests substitute a mock.
type Channel interface {
	// Autoload asks the frontend for the stored config of a shortname
	// that is not currently loaded. Returns the config JSON, or
	// oidcerr.ErrUserCancel when the user declines.
	Autoload(shortname, applicationHint string) (string, error)

	// Confirm asks the user to approve handing out a token for the
	// shortname. Returns nil on approval, oidcerr.ErrUserDenied
	// otherwise.
	Confirm(shortname, applicationHint string) error

	// PromptCredentials asks for username and password for a
	// password-flow attempt.
	PromptCredentials(shortname string) (username, password string, err error)
}

// deadliner is implemented by *os.File and net.Conn; pipe reads are
// bounded through it.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// PipeChannel speaks the framed protocol over the pipe pair inherited by
// the prompter. A mutex keeps agent-initiated requests strictly
// sequential, so responses correlate by order.
type PipeChannel struct {
	mu      sync.Mutex
	framer  *ipc.Framer
	rd      deadliner
	timeout time.Duration
}

// NewPipeChannel wraps the read and write ends of the frontend pipes.
// rd should implement SetReadDeadline so a stuck prompter cannot hang a
// handler past timeout.
func NewPipeChannel(framer *ipc.Framer, rd deadliner, timeout time.Duration) *PipeChannel {
	return &PipeChannel{framer: framer, rd: rd, timeout: timeout}
}

type frontendRequest struct {
	Request         string `json:"request"`
	AccountName     string `json:"account_name"`
	ApplicationHint string `json:"application_hint,omitempty"`
}

type frontendResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Config   string `json:"config,omitempty"`
	Accept   bool   `json:"accept,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// roundTrip sends one request and reads its response under the channel
// mutex.
func (c *PipeChannel) roundTrip(req frontendRequest) (*frontendResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding frontend request: %v", oidcerr.ErrInternal, err)
	}
	if err := c.framer.WriteMessage(payload); err != nil {
		return nil, oidcerr.Network("writing to frontend", err)
	}

	if c.rd != nil && c.timeout > 0 {
		if err := c.rd.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, oidcerr.Network("arming frontend read deadline", err)
		}
		defer c.rd.SetReadDeadline(time.Time{})
	}

	raw, err := c.framer.ReadMessage()
	if err != nil {
		return nil, oidcerr.Network("reading from frontend", err)
	}

	var resp frontendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, oidcerr.Network("decoding frontend response", err)
	}
	return &resp, nil
}

func (c *PipeChannel) Autoload(shortname, applicationHint string) (string, error) {
	resp, err := c.roundTrip(frontendRequest{
		Request:         RequestAutoload,
		AccountName:     shortname,
		ApplicationHint: applicationHint,
	})
	if err != nil {
		return "", err
	}
	if resp.Error == "user_cancel" || resp.Status == "failure" && resp.Config == "" {
		return "", oidcerr.ErrUserCancel
	}
	if resp.Config == "" {
		return "", oidcerr.ErrUserCancel
	}
	return resp.Config, nil
}

func (c *PipeChannel) Confirm(shortname, applicationHint string) error {
	resp, err := c.roundTrip(frontendRequest{
		Request:         RequestConfirm,
		AccountName:     shortname,
		ApplicationHint: applicationHint,
	})
	if err != nil {
		return err
	}
	if !resp.Accept {
		return oidcerr.ErrUserDenied
	}
	return nil
}

func (c *PipeChannel) PromptCredentials(shortname string) (string, string, error) {
	resp, err := c.roundTrip(frontendRequest{
		Request:     RequestCredentials,
		AccountName: shortname,
	})
	if err != nil {
		return "", "", err
	}
	if resp.Error == "user_cancel" {
		return "", "", oidcerr.ErrUserCancel
	}
	if resp.Username == "" && resp.Password == "" {
		return "", "", oidcerr.ErrUserCancel
	}
	return resp.Username, resp.Password, nil
}
