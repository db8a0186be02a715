package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tuid/internal/broadcast"
	"tuid/internal/config"
	"tuid/internal/livegateway"
	"tuid/internal/logging"
	"tuid/internal/registry"
	"tuid/internal/rpc"
	"tuid/internal/statefile"
	"tuid/internal/version"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tuid daemon",
		Long:  "serve starts the JSON-RPC socket (and, if LIVE_LISTEN is set, the HTTP/WS live-stream gateway) and blocks until terminated.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

// runServe is the composition root: every collaborator is constructed
// here and passed in explicitly, no global singletons (spec.md §9).
func runServe(cmd *cobra.Command) error {
	settings := config.FromEnv()
	log := logging.NewFromEnv()

	stateDir := config.StateDir()
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	lock, err := statefile.AcquireStartupLock(stateDir)
	if err != nil {
		return fmt.Errorf("acquire startup lock: %w", err)
	}
	defer lock.Release()

	if err := os.RemoveAll(settings.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", settings.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.SocketPath, err)
	}
	defer ln.Close()
	defer os.Remove(settings.SocketPath)

	reg := registry.New()
	bc := broadcast.New()

	server := rpc.New(reg, bc, log.With("rpc"), version.DisplayVersion())
	server.MaxConnections = settings.MaxConnections
	server.MaxRequestBytes = settings.MaxRequestBytes
	server.IdleTimeout = settings.IdleTimeout()

	ctx, cancel := signalContext()
	defer cancel()

	if err := statefile.WriteAtomic(filepath.Join(stateDir, "daemon.json"), statefile.DaemonState{
		Pid:        os.Getpid(),
		SocketPath: settings.SocketPath,
		StartedAt:  time.Now(),
		Version:    version.DisplayVersion(),
	}); err != nil {
		return fmt.Errorf("write daemon state: %w", err)
	}
	defer statefile.Remove(filepath.Join(stateDir, "daemon.json"))

	var gwLn net.Listener
	if settings.LiveListen != "" {
		gwLn, err = net.Listen("tcp", settings.LiveListen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", settings.LiveListen, err)
		}
		defer gwLn.Close()

		gw := livegateway.New(reg, bc, settings.LiveToken)
		go func() {
			httpServer := &http.Server{Handler: gw.Handler()}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()
			if err := httpServer.Serve(gwLn); err != nil && err != http.ErrServerClosed {
				log.With("live").Error("gateway serve failed", map[string]any{"err": err.Error()})
			}
		}()

		if err := statefile.WriteAtomic(filepath.Join(stateDir, "live.json"), statefile.LiveState{
			Pid:       os.Getpid(),
			HTTPURL:   "http://" + settings.LiveListen,
			WSURL:     "ws://" + settings.LiveListen + "/live",
			Listen:    settings.LiveListen,
			Token:     settings.LiveToken,
			StartedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("write live state: %w", err)
		}
		defer statefile.Remove(filepath.Join(stateDir, "live.json"))
	}

	log.With("serve").Info("listening", map[string]any{"socket": settings.SocketPath})
	fmt.Fprintf(cmd.OutOrStdout(), "tuid %s listening on %s\n", version.DisplayVersion(), settings.SocketPath)

	return server.Serve(ctx, ln)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
