package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

const (
	// socketDirPerm is the permission mode for the socket directory.
	socketDirPerm = os.FileMode(0o700)

	// socketPerm is the permission mode for the agent socket itself.
	// Filesystem permissions are the agent's whole authentication model.
	socketPerm = os.FileMode(0o600)
)

// Listen creates the agent's unix-domain stream socket. With dir empty a
// fresh 0700 directory is created under the system temp dir; otherwise
// dir is created if missing and restricted to 0700. Returns the listener and the
// socket path to advertise via OIDC_SOCK.
func Listen(dir string) (net.Listener, string, error) {
	if dir == "" {
		d, err := os.MkdirTemp("", "oidcd-")
		if err != nil {
			return nil, "", fmt.Errorf("creating socket directory: %w", err)
		}
		dir = d
	} else {
		if err := os.MkdirAll(dir, socketDirPerm); err != nil {
			return nil, "", fmt.Errorf("creating socket directory: %w", err)
		}
	}
	if err := os.Chmod(dir, socketDirPerm); err != nil {
		return nil, "", fmt.Errorf("restricting socket directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("oidcd.%d.sock", os.Getpid()))

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, "", fmt.Errorf("binding agent socket: %w", err)
	}
	if err := os.Chmod(path, socketPerm); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("restricting agent socket: %w", err)
	}

	return ln, path, nil
}
