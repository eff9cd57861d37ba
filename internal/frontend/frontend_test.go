package frontend

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/oidcd/internal/ipc"
	"github.com/alexjbarnes/oidcd/internal/oidcerr"
)

// fakePrompter answers one framed request per entry in replies.
func fakePrompter(t *testing.T, conn net.Conn, replies []string) {
	t.Helper()
	go func() {
		f := ipc.NewFramer(conn)
		for _, reply := range replies {
			if _, err := f.ReadMessage(); err != nil {
				return
			}
			if err := f.WriteMessage([]byte(reply)); err != nil {
				return
			}
		}
	}()
}

func pipeChannel(t *testing.T, replies []string) *PipeChannel {
	t.Helper()
	agentSide, prompterSide := net.Pipe()
	t.Cleanup(func() {
		agentSide.Close()
		prompterSide.Close()
	})
	fakePrompter(t, prompterSide, replies)
	return NewPipeChannel(ipc.NewFramer(agentSide), agentSide, time.Second)
}

func TestAutoloadReturnsConfig(t *testing.T) {
	cfg := `{"name":"s1","issuer_url":"https://i","refresh_token":"R"}`
	reply, err := json.Marshal(map[string]string{"status": "success", "config": cfg})
	require.NoError(t, err)

	c := pipeChannel(t, []string{string(reply)})

	got, err := c.Autoload("s1", "myapp")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestAutoloadUserCancel(t *testing.T) {
	c := pipeChannel(t, []string{`{"status":"failure","error":"user_cancel"}`})

	_, err := c.Autoload("s1", "")
	assert.ErrorIs(t, err, oidcerr.ErrUserCancel)
}

func TestConfirmAcceptAndDeny(t *testing.T) {
	c := pipeChannel(t, []string{
		`{"status":"success","accept":true}`,
		`{"status":"success","accept":false}`,
	})

	require.NoError(t, c.Confirm("s1", "myapp"))
	assert.ErrorIs(t, c.Confirm("s1", "myapp"), oidcerr.ErrUserDenied)
}

func TestPromptCredentials(t *testing.T) {
	c := pipeChannel(t, []string{`{"status":"success","username":"alice","password":"pw"}`})

	user, pass, err := c.PromptCredentials("s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "pw", pass)
}

func TestPromptCredentialsCancel(t *testing.T) {
	c := pipeChannel(t, []string{`{"status":"failure","error":"user_cancel"}`})

	_, _, err := c.PromptCredentials("s1")
	assert.ErrorIs(t, err, oidcerr.ErrUserCancel)
}

func TestRoundTripTimesOutOnSilentPrompter(t *testing.T) {
	agentSide, prompterSide := net.Pipe()
	t.Cleanup(func() {
		agentSide.Close()
		prompterSide.Close()
	})
	// Drain the request but never answer.
	go func() {
		f := ipc.NewFramer(prompterSide)
		_, _ = f.ReadMessage()
	}()

	c := NewPipeChannel(ipc.NewFramer(agentSide), agentSide, 50*time.Millisecond)

	_, err := c.Autoload("s1", "")
	var ne *oidcerr.NetworkError
	assert.ErrorAs(t, err, &ne)
}

func TestRequestWireFormat(t *testing.T) {
	agentSide, prompterSide := net.Pipe()
	t.Cleanup(func() {
		agentSide.Close()
		prompterSide.Close()
	})

	captured := make(chan []byte, 1)
	go func() {
		f := ipc.NewFramer(prompterSide)
		msg, err := f.ReadMessage()
		if err != nil {
			return
		}
		captured <- msg
		_ = f.WriteMessage([]byte(`{"status":"success","accept":true}`))
	}()

	c := NewPipeChannel(ipc.NewFramer(agentSide), agentSide, time.Second)
	require.NoError(t, c.Confirm("s1", "myapp"))

	var req map[string]any
	require.NoError(t, json.Unmarshal(<-captured, &req))
	assert.Equal(t, RequestConfirm, req["request"])
	assert.Equal(t, "s1", req["account_name"])
	assert.Equal(t, "myapp", req["application_hint"])
}
