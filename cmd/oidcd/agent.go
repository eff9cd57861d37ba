package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/oidcd/internal/account"
	"github.com/alexjbarnes/oidcd/internal/config"
	"github.com/alexjbarnes/oidcd/internal/discovery"
	"github.com/alexjbarnes/oidcd/internal/frontend"
	"github.com/alexjbarnes/oidcd/internal/ipc"
	"github.com/alexjbarnes/oidcd/internal/logging"
	"github.com/alexjbarnes/oidcd/internal/oidc"
	"github.com/alexjbarnes/oidcd/internal/oidcd"
)

// shutdownGrace bounds graceful shutdown before the process force-exits.
const shutdownGrace = 2 * time.Second

// runAgent is the foreground agent: bind the socket, print the export
// lines, serve until a signal arrives or the socket file disappears.
func runAgent(debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(debug)

	ln, socketPath, err := ipc.Listen(cfg.SocketDir)
	if err != nil {
		return err
	}

	printExportLines(socketPath, os.Getpid())

	registry, err := account.NewRegistry()
	if err != nil {
		ln.Close()
		return err
	}

	var store *discovery.Store
	if s, err := discovery.OpenStore(cfg.CacheDir); err != nil {
		logger.Warn("discovery cache unavailable, running without persistence",
			slog.Any("error", err))
	} else {
		store = s
		defer store.Close()
	}
	issuers := discovery.NewCache(nil, store, logger)
	engine := oidc.NewEngine(issuers, cfg.RequestTimeout, logger)

	fe, stopPrompter, err := startPrompter(cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}
	if stopPrompter != nil {
		defer stopPrompter()
	}

	server := oidcd.NewServer(cfg, registry, engine, fe, logger)

	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, ln)
	})
	g.Go(func() error {
		return watchSocket(gctx, socketPath, logger)
	})

	logger.Info("oidcd listening", slog.String("socket", socketPath))
	err = g.Wait()

	shutdown(server, registry, socketPath, logger)
	return err
}

// printExportLines emits the shell lines a caller eval's, exactly one
// variable per line.
func printExportLines(socketPath string, pid int) {
	fmt.Printf("%s=%s; export %s;\n", sockEnvName, socketPath, sockEnvName)
	fmt.Printf("%s=%d; export %s;\n", pidEnvName, pid, pidEnvName)
	fmt.Printf("echo Agent pid %d;\n", pid)
}

// startPrompter launches the frontend prompter with the pipe pair on its
// stdin/stdout. Without a configured prompter the agent runs headless.
func startPrompter(cfg *config.Config, logger *slog.Logger) (frontend.Channel, func(), error) {
	if cfg.Prompter == "" {
		return nil, nil, nil
	}

	toPrompter, agentWrites, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating frontend pipes: %w", err)
	}
	agentReads, fromPrompter, err := os.Pipe()
	if err != nil {
		toPrompter.Close()
		agentWrites.Close()
		return nil, nil, fmt.Errorf("creating frontend pipes: %w", err)
	}

	cmd := exec.Command(cfg.Prompter)
	cmd.Stdin = toPrompter
	cmd.Stdout = fromPrompter
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		toPrompter.Close()
		agentWrites.Close()
		agentReads.Close()
		fromPrompter.Close()
		return nil, nil, fmt.Errorf("starting prompter %q: %w", cfg.Prompter, err)
	}
	// The child owns its ends now.
	toPrompter.Close()
	fromPrompter.Close()

	logger.Info("prompter started",
		slog.String("command", cfg.Prompter), slog.Int("pid", cmd.Process.Pid))

	channel := frontend.NewPipeChannel(
		ipc.NewFramerPair(agentReads, agentWrites), agentReads, cfg.RequestTimeout)
	stop := func() {
		agentWrites.Close()
		agentReads.Close()
		_ = cmd.Process.Signal(syscall.SIGTERM)
		_ = cmd.Wait()
	}
	return channel, stop, nil
}

// watchSocket shuts the agent down when its socket file is unlinked, as
// `oidcd --kill` from another shell does.
func watchSocket(ctx context.Context, socketPath string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating socket watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(socketPath)); err != nil {
		return fmt.Errorf("watching socket directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == socketPath && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Info("agent socket removed, shutting down")
				return fmt.Errorf("agent socket was removed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("socket watcher error", slog.Any("error", err))
		}
	}
}

// shutdown wipes all secrets and removes the socket, bounded by
// shutdownGrace; a hung teardown force-exits.
func shutdown(server *oidcd.Server, registry *account.Registry, socketPath string, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		server.Callbacks().TermAll()
		registry.RemoveAll()
		os.Remove(socketPath)
		os.Remove(filepath.Dir(socketPath))
		close(done)
	}()

	select {
	case <-done:
		logger.Info("oidcd stopped")
	case <-time.After(shutdownGrace):
		logger.Error("shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
