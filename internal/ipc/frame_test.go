package ipc

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)

	require.NoError(t, f.WriteMessage([]byte(`{"request":"access_token"}`)))
	require.NoError(t, f.WriteMessage([]byte(`{"status":"success"}`)))

	first, err := f.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"request":"access_token"}`, string(first))

	second, err := f.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"status":"success"}`, string(second))

	_, err = f.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameLargerThanReadBuffer(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(&buf)

	payload := bytes.Repeat([]byte("a"), 64*1024)
	require.NoError(t, f.WriteMessage(payload))

	got, err := f.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteRejectsOversizedFrame(t *testing.T) {
	f := NewFramer(&bytes.Buffer{})
	err := f.WriteMessage(bytes.Repeat([]byte("a"), MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteRejectsEmbeddedNUL(t *testing.T) {
	f := NewFramer(&bytes.Buffer{})
	err := f.WriteMessage([]byte("a\x00b"))
	assert.Error(t, err)
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte("a"), MaxFrameSize+2))
	buf.WriteByte(0)

	f := NewFramer(&buf)
	_, err := f.ReadMessage()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadUnterminatedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"partial":`)

	f := NewFramer(&buf)
	_, err := f.ReadMessage()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestListenCreatesRestrictedSocket(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sock")

	ln, path, err := Listen(dir)
	require.NoError(t, err)
	defer ln.Close()

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	sockInfo, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), sockInfo.Mode().Perm())
}

func TestFramingOverUnixSocket(t *testing.T) {
	ln, path, err := Listen(filepath.Join(t.TempDir(), "sock"))
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		f := NewFramer(conn)
		msg, err := f.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		done <- f.WriteMessage(append([]byte("echo:"), msg...))
	}()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	f := NewFramer(conn)
	require.NoError(t, f.WriteMessage([]byte(`{"request":"x"}`)))

	reply, err := f.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `echo:{"request":"x"}`, string(reply))
	require.NoError(t, <-done)
}
