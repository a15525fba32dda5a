package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pders01/roster/internal/config"
	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
	"github.com/pders01/roster/internal/seed"
	"github.com/pders01/roster/internal/server"
	"github.com/pders01/roster/internal/service"
	"github.com/pders01/roster/internal/tui"
	"github.com/pders01/roster/internal/validation"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the people API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			rt, err := openSession(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := server.New(rt.searcher, server.Config{
				Addr:        addr,
				RateLimit:   cfg.Server.RateLimit,
				Burst:       cfg.Server.Burst,
				FailureRate: cfg.Server.FailureRate,
				Latency:     cfg.Server.Latency,
				Limit:       cfg.Search.Limit,
			}, server.WithRegistry(prometheus.NewRegistry()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving people API on http://%s%s\n", addr, service.PeoplePath)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

type listOptions struct {
	query      string
	employment string
	retries    int
	timeout    time.Duration
	asJSON     bool
}

func newListCmd(root *rootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch people once through the controller and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := people.ParseEmploymentSet(opts.employment)
			if err != nil {
				return err
			}
			return runList(cmd, root, opts, people.Filter{Query: opts.query, Employment: set})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.query, "query", "q", "", "Case-insensitive name substring")
	f.StringVarP(&opts.employment, "employment", "e", "employee,contractor", "Comma separated employment kinds; empty selects none")
	f.IntVar(&opts.retries, "retries", 0, "Retries after a failed fetch")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Give up after this long")
	f.BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func runList(cmd *cobra.Command, root *rootOptions, opts *listOptions, want people.Filter) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	rt, err := openSession(cfg, cfg.Service.Mode == config.ServiceModeLocal)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.service()
	if err != nil {
		return err
	}

	settled := make(chan machine.Snapshot, 1)
	m := newMachine(cfg, svc, nil, func(s machine.Snapshot) {
		if s.Context.ActiveFilter != want {
			return
		}
		if s.State == machine.StateSuccess || s.State == machine.StateFailure {
			select {
			case settled <- s:
			default:
			}
		}
	})
	defer m.Close()

	m.Send(machine.Start{})
	if want != people.DefaultFilter() {
		m.Send(machine.SetQuery{Query: want.Query})
		m.Send(machine.SetEmployment{Employment: want.Employment})
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	for attempt := 0; ; attempt++ {
		select {
		case snap := <-settled:
			if snap.State == machine.StateSuccess {
				return printPeople(out, snap.Context.People, opts.asJSON)
			}
			if attempt < opts.retries {
				m.Send(machine.Retry{})
				continue
			}
			return fetchFailure(out, snap)
		case <-ctx.Done():
			return fmt.Errorf("waiting for people: %w", ctx.Err())
		}
	}
}

func printPeople(w io.Writer, list []people.Person, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(service.PeopleResponse{People: list})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "JOB TITLE", "COUNTRY", "SALARY", "EMPLOYMENT")
	for _, p := range list {
		t.Row(strconv.Itoa(p.ID), p.Name, p.JobTitle, p.Country,
			fmt.Sprintf("%d %s", p.Salary, p.Currency), string(p.Employment))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, tui.MsgResultsCount(len(list)))
	return nil
}

func fetchFailure(w io.Writer, snap machine.Snapshot) error {
	errs := snap.Context.Errors
	fmt.Fprintf(w, "Service %s\n", snap.Status())
	for i, e := range errs {
		fmt.Fprintf(w, "  attempt %d: %s\n", i+1, e.Message)
	}
	if len(errs) == 0 {
		return errors.New("fetch failed")
	}
	return fmt.Errorf("fetch failed after %d attempts: %w", len(errs), errs[len(errs)-1])
}

func newSeedCmd(root *rootOptions) *cobra.Command {
	var info bool
	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Load people into the database from a TOML file or the built-in directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			rt, err := openSession(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			if info {
				return printSeedInfo(out, rt)
			}

			list, source, err := loadSeed(args)
			if err != nil {
				return err
			}
			if err := seed.Into(rt.store, list, source); err != nil {
				return err
			}
			rt.peopleUpdated(list)
			fmt.Fprintf(out, "Seeded %d people from %s\n", len(list), source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&info, "info", false, "Show when and from where the database was last seeded")
	return cmd
}

func loadSeed(args []string) ([]people.Person, string, error) {
	if len(args) == 0 {
		list, err := seed.Default()
		return list, seed.BuiltinSource, err
	}
	path, err := validation.NewFilePathValidator().ValidateFile(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("invalid seed file: %w", err)
	}
	list, err := seed.Load(path)
	return list, path, err
}

func printSeedInfo(w io.Writer, rt *session) error {
	n, err := rt.store.Count()
	if err != nil {
		return err
	}
	at, source, ok, err := rt.store.SeedInfo()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "%d people, never seeded\n", n)
		return nil
	}
	fmt.Fprintf(w, "%d people, seeded from %s at %s\n", n, source, at.Format(time.RFC3339))
	return nil
}

func newExportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the directory as TOML to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			rt, err := openSession(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			list, err := rt.store.GetAllPeople()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return seed.Export(cmd.OutOrStdout(), list)
			}

			v := validation.NewFilePathValidator()
			path, err := v.ValidateFile(args[0])
			if err != nil {
				return fmt.Errorf("invalid export file: %w", err)
			}
			if _, err := v.ValidateDirectory(filepath.Dir(path), true); err != nil {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			if err := seed.Export(f, list); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d people to %s\n", len(list), path)
			return nil
		},
	}
}
