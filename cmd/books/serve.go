package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/certs"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the command and approval API",
		Long: `Start the HTTP API:

  POST /api/v1/command   run a natural-language command
  POST /api/v1/approve   approve or reject a preview
  GET  /health           dependency health

A janitor settles transactions abandoned by a crash while the server runs.
With --tls a self-signed certificate is generated on first start.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate (overrides server.tls)")
	cmd.Flags().Duration("recover-every", time.Minute, "how often to settle abandoned transactions")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if on, _ := cmd.Flags().GetBool("tls"); on {
		cfg.Server.TLS = true
	}
	every, _ := cmd.Flags().GetDuration("recover-every")

	logger := slog.Default()
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.pipeline, a.guard, a.checker, cfg.Server.Config, logger)

	ln, err := listen(cfg.Server)
	if err != nil {
		return err
	}

	logger.Info("📒 starting books API",
		"ledger", cfg.Ledger.Backend,
		"redis", cfg.Redis.Addr != "",
		"tls", cfg.Server.TLS)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	g.Go(func() error {
		runJanitor(ctx, a, every)
		return nil
	})

	return g.Wait()
}

// listen opens the API listener, wrapping it in TLS when configured.
func listen(sc config.ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", sc.Addr, err)
	}
	if !sc.TLS {
		return ln, nil
	}

	hosts := sc.TLSHosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	tlsCfg, err := certs.NewFileManager(sc.CertDir, hosts...).TLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("failed to prepare TLS: %w", err)
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// runJanitor settles stale transactions until ctx ends.
func runJanitor(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.manager.RecoverStale(ctx, a.cfg.Transaction.LockTTL)
			if err != nil {
				a.logger.Error("stale transaction recovery failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("settled stale transactions", "count", n)
			}
		}
	}
}
