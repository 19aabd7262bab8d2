package main

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/yourorg/multigateway/internal/config"
	"github.com/yourorg/multigateway/internal/logging"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "multigateway",
		Short:         "Multi-gateway payment routing service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (MGW_* env vars override it)")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(reconcileCmd(&configPath))
	root.AddCommand(gatewaysCmd(&configPath))
	root.AddCommand(reportCmd(&configPath))
	return root
}

// bootstrap loads configuration and builds the application for a command.
func bootstrap(ctx stdcontext.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return newApp(ctx, cfg, logger)
}

func serveCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx stdcontext.Context, a *app) error {
	if a.cfg.Telemetry.Tracing.Enabled {
		shutdown, err := setupTracing(os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				a.logger.Warn("failed to flush traces", "error", err)
			}
		}()
	}

	gin.SetMode(a.cfg.Server.Mode)
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: setupRouter(a),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", "addr", srv.Addr, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to run server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	sctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func reconcileCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare each gateway's transactions with the local records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.reconciler.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GATEWAY\tNAME\tMATCHED\tMISSING LOCALLY\tMISSING REMOTELY\tERROR")
			for _, g := range report.Gateways {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n",
					g.GatewayID, g.GatewayName, len(g.Matched), len(g.MissingLocally), len(g.MissingRemotely), g.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !report.Consistent() {
				return errors.New("gateways and local records disagree")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func gatewaysCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "List configured gateways in routing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			cfgs, err := a.admin.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tNAME\tACTIVE\tPRIORITY")
			for _, g := range cfgs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\n", g.ID, g.Type, g.Name, g.IsActive, g.Priority)
			}
			return tw.Flush()
		},
	}
}

func reportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the retrospective report of local transactions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return printRetrospective(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func printRetrospective(ctx stdcontext.Context, a *app, w io.Writer) error {
	report, err := a.retrospective(ctx)
	if err != nil {
		return err
	}
	return writeJSON(w, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
