package callback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingExchanger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingExchanger) ExchangeForState(_ context.Context, state, code, redirectURI string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, state+"|"+code+"|"+redirectURI)
	return r.err
}

func (r *recordingExchanger) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// freeRedirectURI reserves a localhost port and builds a redirect URI on
// it.
func freeRedirectURI(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return fmt.Sprintf("http://127.0.0.1:%d/redirect", port)
}

func TestRedirectDrivesExchange(t *testing.T) {
	ex := &recordingExchanger{}
	c := NewCoordinator(ex, time.Second, testLogger())
	t.Cleanup(c.TermAll)

	redirect := freeRedirectURI(t)
	require.NoError(t, c.Start("state1", redirect))

	resp, err := http.Get(redirect + "?code=the-code&state=state1")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Success")

	require.Equal(t, 1, ex.callCount())
	assert.Equal(t, "state1|the-code|"+redirect, ex.calls[0])
}

func TestRedirectWithWrongStateIsRejected(t *testing.T) {
	ex := &recordingExchanger{}
	c := NewCoordinator(ex, time.Second, testLogger())
	t.Cleanup(c.TermAll)

	redirect := freeRedirectURI(t)
	require.NoError(t, c.Start("state1", redirect))

	resp, err := http.Get(redirect + "?code=x&state=other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, ex.callCount())
}

func TestProviderErrorRendersErrorPage(t *testing.T) {
	ex := &recordingExchanger{}
	c := NewCoordinator(ex, time.Second, testLogger())
	t.Cleanup(c.TermAll)

	redirect := freeRedirectURI(t)
	require.NoError(t, c.Start("state1", redirect))

	resp, err := http.Get(redirect + "?state=state1&error=access_denied&error_description=nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "nope")
	assert.Zero(t, ex.callCount(), "no exchange on provider error")
}

func TestSecondRedirectIsIgnored(t *testing.T) {
	ex := &recordingExchanger{}
	c := NewCoordinator(ex, time.Second, testLogger())
	t.Cleanup(c.TermAll)

	redirect := freeRedirectURI(t)
	require.NoError(t, c.Start("state1", redirect))

	resp, err := http.Get(redirect + "?code=first&state=state1")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(redirect + "?code=second&state=state1")
	if err == nil {
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, 1, ex.callCount())
}

func TestStartTwiceForSameState(t *testing.T) {
	c := NewCoordinator(&recordingExchanger{}, time.Second, testLogger())
	t.Cleanup(c.TermAll)

	redirect := freeRedirectURI(t)
	require.NoError(t, c.Start("state1", redirect))
	assert.Error(t, c.Start("state1", freeRedirectURI(t)))
}

func TestTermStopsListening(t *testing.T) {
	c := NewCoordinator(&recordingExchanger{}, time.Second, testLogger())

	redirect := freeRedirectURI(t)
	require.NoError(t, c.Start("state1", redirect))
	assert.True(t, c.Term("state1"))
	assert.False(t, c.Term("state1"), "second term is a no-op")

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	_, err = net.DialTimeout("tcp", u.Host, 200*time.Millisecond)
	assert.Error(t, err, "port must be released after term")
}

func TestStartRejectsNonHTTPRedirect(t *testing.T) {
	c := NewCoordinator(&recordingExchanger{}, time.Second, testLogger())
	assert.Error(t, c.Start("s", "https://example.com/cb"))
	assert.Error(t, c.Start("s", "not a url"))
}
