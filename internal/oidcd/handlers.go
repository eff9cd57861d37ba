package oidcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/frontend"
	"github.com/alexjbarnes/oidcd/internal/oidc"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// fail converts err into the wire response, logging invariant
// violations at the highest severity first.
func (s *Server) fail(err error) response {
	if errors.Is(err, oidcerr.ErrInternal) {
		s.logger.Error("internal error", slog.Any("error", err))
	}
	return errorResponse(err)
}

func (s *Server) parseConfig(req *request) (*account.Account, error) {
	if req.Config.isEmpty() {
		return nil, fmt.Errorf("%w: required field 'config' not present", oidcerr.ErrBadRequest)
	}
	return account.ParseConfig(req.Config)
}

// handleGen creates a brand-new account config by trying each requested
// flow in order; the first success wins. The code and device flows do
// not finish here: they answer with accepted and complete via
// code_exchange/state_lookup or device_lookup.
func (s *Server) handleGen(ctx context.Context, req *request) response {
	a, err := s.parseConfig(req)
	if err != nil {
		return s.fail(err)
	}
	flows := oidc.ParseFlowList(req.Flow)
	if len(flows) == 0 {
		return badRequest("required field 'flow' not present")
	}

	success := false
	for i, flow := range flows {
		lastFlow := i == len(flows)-1
		switch flow {
		case oidc.FlowRefresh:
			_, _, err = s.engine.Refresh(ctx, a, 0, "")
		case oidc.FlowPassword:
			err = s.engine.Password(ctx, a, s.channel())
		case oidc.FlowCode:
			if len(a.RedirectURIs) == 0 && !lastFlow {
				err = oidcerr.ErrNoRedirectURIs
				break
			}
			return s.initCodeFlow(ctx, req, a)
		case oidc.FlowDevice:
			return s.initDeviceFlow(ctx, req, a)
		default:
			a.Wipe()
			return s.fail(oidcerr.UnknownFlow(flow))
		}
		if err == nil {
			success = true
			break
		}
		if lastFlow {
			a.Wipe()
			return s.fail(err)
		}
		s.logger.Debug("flow failed, trying next",
			slog.String("flow", flow), slog.Any("error", err))
	}

	a.WipeCredentials()
	if !success || !a.RefreshTokenIsValid() {
		a.Wipe()
		if success {
			return response{Status: statusFailure, Error: "provider response contained no refresh token"}
		}
		return response{Status: statusFailure, Error: "no flow was successful"}
	}

	cfg, err := a.ConfigJSON()
	if err != nil {
		a.Wipe()
		return s.fail(fmt.Errorf("%w: %v", oidcerr.ErrInternal, err))
	}
	if err := s.registry.Insert(a); err != nil {
		return s.fail(err)
	}
	return response{Status: statusSuccess, Config: cfg}
}

// initCodeFlow starts the authorization-code flow: callback receiver up,
// scratch recorded on a pending registry entry, authorization URL back
// to the caller.
func (s *Server) initCodeFlow(ctx context.Context, req *request, a *account.Account) response {
	authURL, state, err := s.engine.InitCodeFlow(ctx, a)
	if err != nil {
		a.Wipe()
		return s.fail(err)
	}
	if err := s.callbacks.Start(state, a.RedirectURIs[0]); err != nil {
		a.ClearCodeFlow()
		a.Wipe()
		return response{Status: statusFailure, Error: err.Error()}
	}

	if err := s.registry.Insert(a); err != nil {
		s.callbacks.Term(state)
		return s.fail(err)
	}

	resp := response{Status: statusAccepted, URI: authURL, State: state}
	if req.ApplicationHint != "" {
		resp.Info = req.ApplicationHint
	}
	return resp
}

// initDeviceFlow obtains the device and user codes and hands them to the
// caller, who displays them and later polls with device_lookup.
func (s *Server) initDeviceFlow(ctx context.Context, req *request, a *account.Account) response {
	defer a.Wipe()

	dc, err := s.engine.InitDeviceFlow(ctx, a)
	if err != nil {
		return s.fail(err)
	}
	deviceJSON, err := dc.JSON()
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", oidcerr.ErrInternal, err))
	}
	return response{
		Status: statusAccepted,
		Device: json.RawMessage(deviceJSON),
		Config: string(req.Config),
	}
}

// handleAdd loads an existing config, verifying it with the refresh
// flow. Adding an already-loaded shortname only updates its lifetime.
func (s *Server) handleAdd(ctx context.Context, req *request) response {
	a, err := s.parseConfig(req)
	if err != nil {
		return s.fail(err)
	}

	timeout := s.cfg.DefaultTimeout
	if req.Timeout != nil {
		timeout = int64(*req.Timeout)
	}
	var death int64
	if timeout > 0 {
		death = s.now().Unix() + timeout
	}
	if bool(req.Confirm) {
		a.ConfirmationRequired = true
	}

	if s.registry.Contains(a.Shortname) {
		a.Wipe()
		stored, err := s.registry.Get(a.Shortname)
		if err != nil {
			return s.fail(err)
		}
		changed := stored.Death != death
		stored.Wipe()
		if changed {
			s.registry.SetDeath(a.Shortname, death)
			return response{
				Status: statusSuccess,
				Info:   fmt.Sprintf("account already loaded. Lifetime set to %d seconds.", timeout),
			}
		}
		return response{Status: statusSuccess, Info: "account already loaded."}
	}

	a.Death = death
	if _, _, err := s.engine.Refresh(ctx, a, 0, ""); err != nil {
		a.Wipe()
		return s.fail(err)
	}
	if err := s.registry.Insert(a); err != nil {
		return s.fail(err)
	}

	s.logger.Debug("account loaded",
		slog.String("account", a.Shortname), slog.Int64("timeout", timeout))
	if timeout > 0 {
		return response{Status: statusSuccess, Info: fmt.Sprintf("Lifetime set to %d seconds", timeout)}
	}
	return response{Status: statusSuccess}
}

// handleRemove unloads an account locally without touching the issuer.
func (s *Server) handleRemove(req *request) response {
	if req.AccountName == "" {
		return badRequest("required field 'account_name' not present")
	}
	if !s.registry.Remove(req.AccountName) {
		return response{Status: statusFailure, Error: oidcerr.ErrAccountNotLoaded.Error()}
	}
	return response{Status: statusSuccess}
}

func (s *Server) handleRemoveAll() response {
	s.registry.RemoveAll()
	return response{Status: statusSuccess}
}

// handleDelete revokes the account's refresh token at the issuer, then
// unloads it. A failed revocation leaves the account loaded.
func (s *Server) handleDelete(ctx context.Context, req *request) response {
	a, err := s.parseConfig(req)
	if err != nil {
		return s.fail(err)
	}
	name := a.Shortname
	a.Wipe()

	stored, err := s.registry.Get(name)
	if errors.Is(err, oidcerr.ErrAccountNotLoaded) {
		return response{Status: statusFailure, Error: "could not revoke token: account not loaded"}
	}
	if err != nil {
		return s.fail(err)
	}

	if err := s.engine.Revoke(ctx, stored); err != nil {
		stored.Wipe()
		return response{Status: statusFailure, Error: "could not revoke token: " + err.Error()}
	}
	stored.Wipe()
	s.registry.Remove(name)
	return response{Status: statusSuccess}
}

// channel returns the frontend channel, or a stub that cancels
// everything when no prompter is attached.
func (s *Server) channel() frontend.Channel {
	if s.frontend != nil {
		return s.frontend
	}
	return noFrontend{}
}

// noFrontend stands in when the agent runs without a prompter.
type noFrontend struct{}

func (noFrontend) Autoload(string, string) (string, error) { return "", oidcerr.ErrUserCancel }
func (noFrontend) Confirm(string, string) error            { return oidcerr.ErrUserDenied }
func (noFrontend) PromptCredentials(string) (string, string, error) {
	return "", "", oidcerr.ErrUserCancel
}

// handleAccessToken implements the token handout path: lookup (with
// autoload), confirmation, refresh flow, commit.
func (s *Server) handleAccessToken(ctx context.Context, req *request) response {
	if req.AccountName == "" {
		return badRequest("required field 'account_name' not present")
	}

	a, err := s.registry.Get(req.AccountName)
	switch {
	case errors.Is(err, oidcerr.ErrAccountNotLoaded):
		if s.cfg.NoAutoload {
			return response{Status: statusFailure, Error: oidcerr.ErrAccountNotLoaded.Error()}
		}
		a, err = s.autoload(ctx, req.AccountName, req.ApplicationHint)
		if errors.Is(err, oidcerr.ErrUserCancel) {
			return response{Status: statusFailure, Error: oidcerr.ErrAccountNotLoaded.Error()}
		}
		if err != nil {
			return s.fail(err)
		}
	case err != nil:
		return s.fail(err)
	}

	if s.cfg.Confirm || a.ConfirmationRequired {
		if err := s.channel().Confirm(req.AccountName, req.ApplicationHint); err != nil {
			a.Wipe()
			return s.fail(err)
		}
	}

	minValid := time.Duration(req.MinValidPeriod) * time.Second
	token, expiresAt, err := s.engine.Refresh(ctx, a, minValid, req.Scope)
	issuer := a.IssuerURL

	// Re-insert regardless of outcome so a rotated refresh token is
	// committed and secrets go back to rest sealed.
	if insertErr := s.registry.Insert(a); insertErr != nil {
		return s.fail(insertErr)
	}
	if err != nil {
		return s.fail(err)
	}

	return response{
		Status:      statusSuccess,
		AccessToken: token,
		IssuerURL:   issuer,
		ExpiresAt:   expiresAt,
	}
}

// autoload asks the frontend for the stored config of an unknown
// shortname and loads it with the default timeout.
func (s *Server) autoload(ctx context.Context, name, applicationHint string) (*account.Account, error) {
	cfgJSON, err := s.channel().Autoload(name, applicationHint)
	if err != nil {
		return nil, err
	}

	a, err := account.ParseConfig([]byte(cfgJSON))
	if err != nil {
		return nil, err
	}
	if s.cfg.DefaultTimeout > 0 {
		a.Death = s.now().Unix() + s.cfg.DefaultTimeout
	}
	if _, _, err := s.engine.Refresh(ctx, a, 0, ""); err != nil {
		a.Wipe()
		return nil, err
	}

	loaded := a.Clone()
	if err := s.registry.Insert(a); err != nil {
		loaded.Wipe()
		return nil, err
	}
	s.logger.Debug("account autoloaded", slog.String("account", name))
	return loaded, nil
}

// handleRegister mints a new client at the issuer. The account is not
// added to the registry; callers follow up with add once they stored the
// config.
func (s *Server) handleRegister(ctx context.Context, req *request) response {
	a, err := s.parseConfig(req)
	if err != nil {
		return s.fail(err)
	}
	defer a.Wipe()

	if s.registry.Contains(a.Shortname) {
		return response{
			Status: statusFailure,
			Error:  "an account with this shortname is already loaded. I will not register a new one.",
		}
	}
	if len(req.FlowList) == 0 {
		return badRequest("required field 'flow_list' not present")
	}

	result, err := s.engine.Register(ctx, a, req.FlowList, req.AccessToken)
	if err != nil {
		return s.fail(err)
	}

	resp := response{
		Status: statusSuccess,
		Client: json.RawMessage(result.ClientJSON),
		Info:   result.Note,
	}
	if result.ScopeWarning != nil {
		resp.Status = statusFailure
		resp.Error = result.ScopeWarning.Error()
	}
	return resp
}

// handleCodeExchange finalizes a code flow from the out-of-process
// receiver: exchange the code, remember the state for the pending
// state_lookup, commit the account.
func (s *Server) handleCodeExchange(ctx context.Context, req *request) response {
	a, err := s.parseConfig(req)
	if err != nil {
		return s.fail(err)
	}
	if req.Code == "" || req.State == "" || req.RedirectURI == "" || req.CodeVerifier == "" {
		a.Wipe()
		return badRequest("code_exchange needs 'code', 'redirect_uri', 'state' and 'code_verifier'")
	}

	if err := s.engine.ExchangeCode(ctx, a, req.Code, req.RedirectURI, req.CodeVerifier); err != nil {
		a.Wipe()
		return s.fail(err)
	}
	if !a.RefreshTokenIsValid() {
		a.Wipe()
		return response{Status: statusFailure, Error: "could not get a refresh token"}
	}

	cfg, err := a.ConfigJSON()
	if err != nil {
		a.Wipe()
		return s.fail(fmt.Errorf("%w: %v", oidcerr.ErrInternal, err))
	}
	a.UsedState = req.State
	if err := s.registry.Insert(a); err != nil {
		return s.fail(err)
	}
	return response{Status: statusSuccess, Config: cfg}
}

// ExchangeForState lets the embedded callback receiver finalize a code
// flow it caught: the pending account is found by state and completed in
// place. Implements callback.Exchanger.
func (s *Server) ExchangeForState(ctx context.Context, state, code, redirectURI string) error {
	a, err := s.registry.GetByState(state)
	if err != nil {
		return err
	}

	verifier := a.CodeVerifier.Value()
	if err := s.engine.ExchangeCode(ctx, a, code, redirectURI, verifier); err != nil {
		a.Wipe()
		return err
	}
	if !a.RefreshTokenIsValid() {
		a.Wipe()
		return errors.New("could not get a refresh token")
	}
	return s.registry.Insert(a)
}

// handleStateLookup drains a completed code flow: once the exchanged
// config is handed out, the state is forgotten and the receiver torn
// down, so a second lookup reports notfound.
func (s *Server) handleStateLookup(req *request) response {
	if req.State == "" {
		return badRequest("required field 'state' not present")
	}

	a, err := s.registry.GetByState(req.State)
	if errors.Is(err, oidcerr.ErrAccountNotLoaded) || (err == nil && !a.RefreshTokenIsValid()) {
		if err == nil {
			a.Wipe()
		}
		return response{
			Status: statusNotFound,
			Info:   "no loaded account found for state=" + req.State,
		}
	}
	if err != nil {
		return s.fail(err)
	}

	cfg, err := a.ConfigJSON()
	if err != nil {
		a.Wipe()
		return s.fail(fmt.Errorf("%w: %v", oidcerr.ErrInternal, err))
	}
	a.ClearCodeFlow()
	if err := s.registry.Insert(a); err != nil {
		return s.fail(err)
	}
	s.callbacks.Term(req.State)
	return response{Status: statusSuccess, Config: cfg}
}

// handleDeviceLookup polls the token endpoint for a pending device
// authorization.
func (s *Server) handleDeviceLookup(ctx context.Context, req *request) response {
	a, err := s.parseConfig(req)
	if err != nil {
		return s.fail(err)
	}
	if req.Device.isEmpty() {
		a.Wipe()
		return badRequest("required field 'device' not present")
	}
	dc, err := oidc.ParseDeviceCode(req.Device)
	if err != nil {
		a.Wipe()
		return s.fail(err)
	}

	if err := s.engine.PollDevice(ctx, a, dc); err != nil {
		a.Wipe()
		return s.fail(err)
	}
	if !a.RefreshTokenIsValid() {
		a.Wipe()
		return response{Status: statusFailure, Error: "could not get a refresh token"}
	}

	cfg, err := a.ConfigJSON()
	if err != nil {
		a.Wipe()
		return s.fail(fmt.Errorf("%w: %v", oidcerr.ErrInternal, err))
	}
	if err := s.registry.Insert(a); err != nil {
		return s.fail(err)
	}
	return response{Status: statusSuccess, Config: cfg}
}

// handleTermHTTP tears down the callback receiver for a state. A still
// pending flow is cancelled: its scratch entry leaves the registry.
func (s *Server) handleTermHTTP(req *request) response {
	if req.State == "" {
		return badRequest("required field 'state' not present")
	}

	s.callbacks.Term(req.State)

	if a, err := s.registry.GetByState(req.State); err == nil {
		if a.RefreshTokenIsValid() {
			a.ClearCodeFlow()
			if err := s.registry.Insert(a); err != nil {
				return s.fail(err)
			}
		} else {
			name := a.Shortname
			a.Wipe()
			s.registry.Remove(name)
		}
	}
	return response{Status: statusSuccess}
}

func (s *Server) handleLock(req *request) response {
	if req.Password == "" {
		return badRequest("required field 'password' not present")
	}
	if err := s.registry.Lock(req.Password); err != nil {
		return s.fail(err)
	}
	return response{Status: statusSuccess, Info: "agent locked"}
}

func (s *Server) handleUnlock(req *request) response {
	if req.Password == "" {
		return badRequest("required field 'password' not present")
	}
	if err := s.registry.Unlock(req.Password); err != nil {
		return s.fail(err)
	}
	return response{Status: statusSuccess, Info: "agent unlocked"}
}

// handleAccountList reports the loaded shortnames; never any secrets.
func (s *Server) handleAccountList() response {
	return response{Status: statusSuccess, AccountList: s.registry.Names()}
}
