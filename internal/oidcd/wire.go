package oidcd

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Request names of the IPC protocol.
const (
	reqGen          = "gen"
	reqAdd          = "add"
	reqRemove       = "remove"
	reqRemoveAll    = "remove_all"
	reqDelete       = "delete"
	reqAccessToken  = "access_token"
	reqRegister     = "register"
	reqCodeExchange = "code_exchange"
	reqStateLookup  = "state_lookup"
	reqDeviceLookup = "device_lookup"
	reqTermHTTP     = "term_http"
	reqLock         = "lock"
	reqUnlock       = "unlock"
	reqAccountList  = "account_list"
)

// Response statuses.
const (
	statusSuccess    = "success"
	statusAccepted   = "accepted"
	statusFailure    = "failure"
	statusNotFound   = "notfound"
	statusBadRequest = "badrequest"
)

// request is the decoded IPC request. Clients serialize loosely (numbers
// as strings, configs as embedded JSON strings), so the field types
// tolerate both forms.
type request struct {
	Request         string     `json:"request"`
	Config          jsonText   `json:"config"`
	AccountName     string     `json:"account_name"`
	Timeout         *flexInt   `json:"timeout"`
	Confirm         flexBool   `json:"confirm"`
	MinValidPeriod  flexInt    `json:"min_valid_period"`
	Scope           string     `json:"scope"`
	ApplicationHint string     `json:"application_hint"`
	Flow            string     `json:"flow"`
	FlowList        stringList `json:"flow_list"`
	AccessToken     string     `json:"access_token"`
	Code            string     `json:"code"`
	RedirectURI     string     `json:"redirect_uri"`
	State           string     `json:"state"`
	CodeVerifier    string     `json:"code_verifier"`
	Device          jsonText   `json:"device"`
	Password        string     `json:"password"`
}

// response is the single reply written per request. Status is always the
// first field on the wire.
type response struct {
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Info        string          `json:"info,omitempty"`
	Config      string          `json:"config,omitempty"`
	AccessToken string          `json:"access_token,omitempty"`
	IssuerURL   string          `json:"issuer_url,omitempty"`
	ExpiresAt   int64           `json:"expires_at,omitempty"`
	URI         string          `json:"uri,omitempty"`
	State       string          `json:"state,omitempty"`
	Device      json.RawMessage `json:"oidc_device,omitempty"`
	Client      json.RawMessage `json:"client,omitempty"`
	AccountList []string        `json:"account_list,omitempty"`
}

// jsonText holds an embedded JSON document that may arrive either as a
// JSON string containing the document or as the document itself.
type jsonText []byte

func (j *jsonText) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*j = []byte(s)
		return nil
	}
	if string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append([]byte(nil), data...)
	return nil
}

func (j jsonText) isEmpty() bool { return len(j) == 0 }

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// flexBool accepts a JSON bool, number, or string form of either.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "", "null", "0", "false":
		*f = false
	default:
		*f = true
	}
	return nil
}

// stringList accepts a JSON array of strings, a JSON-encoded array in a
// string, or a comma-joined string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var arr []string
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	if s == "" {
		*l = nil
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}
