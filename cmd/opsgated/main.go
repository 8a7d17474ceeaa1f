// opsgated is a local developer-assistance daemon: it accepts natural
// language instructions over HTTP, routes them through a model gateway to
// produce a shell execution plan, gates risky plans behind human approval,
// and runs approved plans in a bounded subprocess sandbox.
//
// Unlike the teacher's main.go, this dispatcher always routes to the
// correct subcommand — there is no legacy duplicate evaluation path here.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/approval"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/job"
	"github.com/opsgate/opsgate/internal/logging"
	"github.com/opsgate/opsgate/internal/metrics"
	"github.com/opsgate/opsgate/internal/modelgateway"
	"github.com/opsgate/opsgate/internal/preferences"
	"github.com/opsgate/opsgate/internal/sandbox"
	"github.com/opsgate/opsgate/internal/transport/httpapi"
	"github.com/opsgate/opsgate/internal/transport/wsbridge"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "opsgated",
		Short: "Local developer-assistance daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML")

	root.AddCommand(serveCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg := loadConfig()
	log := logging.New(os.Stderr, "info")

	if err := writePIDFile(); err != nil {
		log.Error().Err(err).Msg("failed to write PID file")
	}
	defer os.Remove(defaultPIDPath())

	prefsDir := cfg.Security.PreferencesDir
	if prefsDir == "" {
		prefsDir = configDir() + "/preferences"
	}
	prefs, err := preferences.New(prefsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open preference store")
	}

	hub := wsbridge.NewHub()

	approvalMgr := approval.New(prefs, approval.Config{
		Timeout:         cfg.Approval.Timeout,
		Learn:           cfg.Approval.Learn,
		AutoApproveSafe: cfg.Approval.AutoApproveSafe,
		OnExpire: func(pa *approval.PendingApproval) {
			log.Info().Str("approval_id", pa.ID).Msg("approval expired")
		},
	})

	backend := modelgateway.MockBackend{} // wired to a real vendor SDK by a deployment-specific collaborator
	gateway := modelgateway.New(&backend)

	sandboxExec := sandbox.New(cfg.Security.MaxExecutionTime)

	engine := job.New(job.Config{
		Gateway:         gateway,
		Registry:        cfg.Registry(),
		ApprovalManager: approvalMgr,
		Preferences:     prefs,
		SandboxExecutor: sandboxExec,
		Notifier:        hub,
	})

	reg := prometheus.NewRegistry()
	metrics.New(reg)

	router := httpapi.NewRouter(engine)
	mux := attachWebsocket(router, hub)

	log.Info().Str("addr", cfg.Daemon.HTTPAddr).Msg("opsgated listening")
	if err := serveHTTP(cfg.Daemon.HTTPAddr, mux); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background daemon process",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			daemonStatus(cfg.Daemon.HTTPAddr)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Run: func(cmd *cobra.Command, args []string) {
			daemonStop()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			daemonRestart(cfg.Daemon.HTTPAddr, configPath)
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			fmt.Printf("config OK: daemon listens on %s, %d model tiers configured\n",
				cfg.Daemon.HTTPAddr, len(cfg.Registry()))
		},
	})
	return cmd
}
