package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	automemlimit "github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/cretz/teleworker/engine"
	"github.com/cretz/teleworker/httpapi"
	"github.com/cretz/teleworker/internal/catalog"
	"github.com/cretz/teleworker/internal/certutil"
	"github.com/cretz/teleworker/internal/config"
	"github.com/cretz/teleworker/internal/orchestrator"
	"github.com/cretz/teleworker/internal/procrunner"
	"github.com/cretz/teleworker/internal/sandbox"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var clientCACert, serverCert, serverKey string
	var insecure bool
	var port int
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Start the code execution HTTP service",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer log.Sync()

			// Best-effort runtime tuning: respect container CPU/memory cgroup
			// limits rather than the host's full core count / unlimited heap.
			if _, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
				log.Warn("failed to set GOMAXPROCS from cgroup limits", zap.Error(err))
			}
			if _, err := automemlimit.SetGoMemLimitWithOpts(
				automemlimit.WithRatio(0.9),
				automemlimit.WithProvider(automemlimit.FromCgroup),
			); err != nil {
				log.Warn("failed to set GOMEMLIMIT from cgroup limits", zap.Error(err))
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if port != 0 {
				cfg.Port = port
			}
			if err := os.MkdirAll(cfg.WorkDirRoot, 0755); err != nil {
				return fmt.Errorf("creating work dir root: %w", err)
			}

			runner := procrunner.New(sandbox.NewRlimitApplier())
			orch := orchestrator.New(runner, cfg.WorkDirRoot)
			eng := engine.New(engine.Config{Catalog: catalog.Default(), Runner: orch, Logger: log})
			defer eng.Close()

			router := httpapi.NewRouter(eng, log)
			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Port),
				Handler: router,
			}

			// TLS is ambient transport security, not a spec requirement, and is
			// off by default: plain HTTP unless a server cert/key is supplied.
			// --insecure (or LABFORCODE_INSECURE) forces plain HTTP even if certs
			// are present, e.g. for a TLS-terminating proxy in front of this process.
			tlsRequested := !cfg.Insecure && !insecure && (serverCert != "" || serverKey != "")
			if tlsRequested {
				if serverCert == "" || serverKey == "" {
					return fmt.Errorf("--server-cert and --server-key are both required to enable TLS")
				}
				serverCertBytes, err := os.ReadFile(serverCert)
				if err != nil {
					return fmt.Errorf("reading server cert: %w", err)
				}
				serverKeyBytes, err := os.ReadFile(serverKey)
				if err != nil {
					return fmt.Errorf("reading server key: %w", err)
				}
				var clientCACertBytes []byte
				if clientCACert != "" {
					if clientCACertBytes, err = os.ReadFile(clientCACert); err != nil {
						return fmt.Errorf("reading client CA cert: %w", err)
					}
				}
				tlsConfig, err := certutil.ServerTLSConfig(serverCertBytes, serverKeyBytes, clientCACertBytes)
				if err != nil {
					return fmt.Errorf("loading TLS credentials: %w", err)
				}
				srv.TLSConfig = tlsConfig
			}

			serveErrCh := make(chan error, 1)
			go func() {
				var err error
				if tlsRequested {
					err = srv.ListenAndServeTLS("", "")
				} else {
					err = srv.ListenAndServe()
				}
				if err != nil && err != http.ErrServerClosed {
					serveErrCh <- err
				}
			}()
			log.Info("serving", zap.Int("port", cfg.Port), zap.Bool("tls", tlsRequested))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			select {
			case err := <-serveErrCh:
				return fmt.Errorf("serving: %w", err)
			case <-sigCh:
				log.Info("termination signal received, shutting down")
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutting down HTTP server: %w", err)
				}
				return nil
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides RUST_ENGINE_PORT)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Force plain HTTP even if --server-cert/--server-key are set")
	cmd.Flags().StringVar(&clientCACert, "client-ca-cert", "", "CA certificate file to verify client certificates")
	cmd.Flags().StringVar(&serverCert, "server-cert", "", "Server certificate file to present to clients")
	cmd.Flags().StringVar(&serverKey, "server-key", "", "Server key file for server auth")
	return cmd
}
