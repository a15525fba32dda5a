package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pders01/roster/internal/config"
	"github.com/pders01/roster/internal/debuglog"
	"github.com/pders01/roster/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

type rootOptions struct {
	configPath  string
	dbPath      string
	debug       bool
	metricsAddr string
}

func main() {
	err := newRootCmd().Execute()
	debuglog.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "roster",
		Short:         "Terminal people directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	pf.StringVar(&opts.dbPath, "db", "", "Path to database file (overrides config)")
	pf.BoolVar(&opts.debug, "debug", false, "Write debug logs")
	root.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve controller metrics on this address while the TUI runs")

	root.AddCommand(
		newServeCmd(opts),
		newListCmd(opts),
		newSeedCmd(opts),
		newExportCmd(opts),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, nil
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	rt, err := openSession(cfg, cfg.Service.Mode == config.ServiceModeLocal)
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := prometheus.NewRegistry()
	svc, err := rt.service()
	if err != nil {
		return err
	}

	notifier := tui.NewNotifier()
	m := newMachine(cfg, svc, reg, notifier.Observe)
	defer m.Close()

	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				debuglog.Errorf("metrics listener: %v", err)
			}
		}()
		defer srv.Close()
	}

	tui.ApplyColors(cfg.UI.Colors)
	app := tui.NewApp(m, notifier, cfg)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var path string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = filepath.Join(home, ".config", "roster", "config.toml")
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("generating config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
	gen.Flags().StringVarP(&path, "output", "o", "", "Where to write the file (default ~/.config/roster/config.toml)")

	cmd.AddCommand(gen)
	return cmd
}

func newVersionCmd() *cobra.Command {
	var banner bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if banner {
				tui.ShowBanner(out, Version)
				return
			}
			fmt.Fprintf(out, "%s %s\n", tui.AppName, Version)
			fmt.Fprintln(out, tui.Tagline)
			fmt.Fprintln(out, "github.com/pders01/roster")
		},
	}
	cmd.Flags().BoolVar(&banner, "banner", false, "Show the full banner")
	return cmd
}
