// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	appsvc "github.com/faultlab/faultlab/internal/app"
	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/generator"
	"github.com/faultlab/faultlab/internal/httpapi"
	"github.com/faultlab/faultlab/internal/sshterm"
)

// shutdownTimeout bounds server drain plus environment teardown.
const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	address    string
	sshAddress string
}

func newServeCommand(app *App) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the faultlab HTTP API until interrupted.

With --ssh-address (or ssh.address in the config file) learners can also
practice over SSH; the login name picks the challenge, for example
"ssh -p 2222 medium@host".

On interrupt the servers stop accepting connections, drain in-flight
requests and remove every environment they created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), app, flags)
		},
	}
	cmd.Flags().StringVar(&flags.address, "address", "", "listen address (overrides server.address)")
	cmd.Flags().StringVar(&flags.sshAddress, "ssh-address", "", "SSH terminal listen address (overrides ssh.address)")
	return cmd
}

func runServe(ctx context.Context, app *App, flags serveFlags) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	if flags.address != "" {
		cfg.Server.Address = flags.address
	}
	if flags.sshAddress != "" {
		cfg.SSH.Address = flags.sshAddress
	}

	deps, closeDeps, err := app.buildService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeDeps()
	svc := deps.service

	if g, ok := deps.generator.(*generator.FromCatalog); ok && cfg.Generator.WatchCatalog && cfg.Generator.CatalogDir != "" {
		stopWatch, err := watchCatalog(ctx, cfg.Generator.CatalogDir, g)
		if err != nil {
			slog.Warn("catalog hot reload disabled", "dir", cfg.Generator.CatalogDir, "error", err)
		} else {
			defer stopWatch()
		}
	}

	if cfg.Ledger.ReapOnStart {
		res, err := svc.Reap(ctx, appsvc.ReapOptions{})
		if err != nil {
			slog.Warn("reaping orphaned environments failed", "error", err)
		} else if n := len(res.Removed); n > 0 {
			fmt.Fprintln(app.stdout, WarningStyle.Render(fmt.Sprintf("Removed %d orphaned environment(s)", n)))
		}
	}

	srv := httpapi.NewServer(svc, httpapi.Config{
		Address:        cfg.Server.Address,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Listening on"), CmdStyle.Render("http://"+srv.Addr()))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// A nil channel never fires when the SSH terminal is disabled.
	var sshErr <-chan error
	var term *sshterm.Server
	if cfg.SSH.Address != "" {
		term = sshterm.NewServer(svc, sshterm.Config{
			Address:      cfg.SSH.Address,
			HostKeyPath:  cfg.SSH.HostKeyPath,
			PasswordHash: cfg.SSH.PasswordHash,
		})
		if err := term.Start(ctx); err != nil {
			_ = srv.Stop(stopCtx)
			_ = svc.Shutdown(stopCtx)
			return err
		}
		sshErr = term.Err()
		fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("SSH terminal on"), CmdStyle.Render(term.Addr()))
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-srv.Err():
		if ok {
			serveErr = err
		}
	case err, ok := <-sshErr:
		if ok {
			serveErr = err
		}
	}

	if term != nil {
		if err := term.Stop(stopCtx); err != nil {
			slog.Warn("SSH terminal did not stop cleanly", "error", err)
		}
	}
	if err := srv.Stop(stopCtx); err != nil {
		slog.Warn("API server did not stop cleanly", "error", err)
	}
	if err := svc.Shutdown(stopCtx); err != nil {
		slog.Warn("environment teardown incomplete", "error", err)
	}
	fmt.Fprintln(app.stdout, SubtitleStyle.Render("Server stopped"))

	if serveErr != nil {
		return failure.Wrap(serveErr, failure.KindInternal, "serve API")
	}
	return nil
}
