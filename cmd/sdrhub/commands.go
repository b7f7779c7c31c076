// ABOUTME: CLI commands: info, find, make, check, serve and probes.
// ABOUTME: Each command builds its own hub and tears it down before returning.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/core"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print versions, module search paths, drivers and converters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub(a.cfg, a.logger, a.history)
			if err != nil {
				return err
			}
			defer h.Close()
			return runInfo(cmd, h)
		},
	}
}

func runInfo(cmd *cobra.Command, h *hub) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Lib Version: v%s\n", core.LibVersion)
	fmt.Fprintf(out, "API Version: v%s\n", core.APIVersion)
	fmt.Fprintf(out, "ABI Version: v%s\n", core.ABIVersion)
	fmt.Fprintf(out, "Install root: %s\n", h.root)
	for _, p := range h.modules.ListSearchPaths() {
		fmt.Fprintf(out, "Search path:  %s\n", p)
	}
	fmt.Fprintln(out)

	found := h.modules.ListModules()
	if len(found) == 0 {
		fmt.Fprintln(out, "No modules found!")
	} else {
		t := newTable(out, table.Row{"Module", "Version", "Status"})
		for _, path := range found {
			status := "loaded"
			if msg := h.modules.Load(path); msg != "" {
				status = msg
			}
			t.AppendRow(table.Row{path, h.modules.ModuleVersion(path), status})
		}
		t.Render()
	}
	fmt.Fprintln(out)

	drivers := newTable(out, table.Row{"Driver", "ABI", "Compatible"})
	for _, d := range h.drivers.Drivers() {
		drivers.AppendRow(table.Row{d.Key, d.ABI, d.Compatible()})
	}
	drivers.Render()
	fmt.Fprintln(out)

	converters := newTable(out, table.Row{"Source", "Targets"})
	for _, src := range h.converters.ListAvailableSourceFormats() {
		converters.AppendRow(table.Row{src, strings.Join(h.converters.ListTargetFormats(src), ", ")})
	}
	converters.Render()
	return nil
}

func newFindCmd(a *app) *cobra.Command {
	var (
		sparse bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "find [args]",
		Short: "Enumerate devices matching key=value arguments",
		Long: `Enumerate devices across every registered driver.

Arguments are key=value pairs separated by commas. A driver key restricts
the search to one driver:
  sdrhub find
  sdrhub find "driver=loopback, serial=LB0001"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub(a.cfg, a.logger, a.history)
			if err != nil {
				return err
			}
			defer h.Close()

			markup := ""
			if len(args) > 0 {
				markup = args[0]
			}
			return runFind(cmd, h, markup, sparse, output)
		},
	}
	cmd.Flags().BoolVar(&sparse, "sparse", false, "print one line per device")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json, yaml)")
	return cmd
}

func runFind(cmd *cobra.Command, h *hub, markup string, sparse bool, output string) error {
	out := cmd.OutOrStdout()
	results := h.factory.EnumerateString(markup)

	if output != outputTable && output != "" {
		return render(out, output, results, nil)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No devices found!")
		return nil
	}

	if sparse {
		for i, r := range results {
			fmt.Fprintf(out, "%d: %s\n", i, deviceLabel(r))
		}
		return nil
	}

	t := newTable(out, table.Row{"Device", "Key", "Value"})
	for i, r := range results {
		for _, k := range r.Keys() {
			t.AppendRow(table.Row{i, k, r[k]})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	t.Render()
	return nil
}

// deviceLabel prefers the driver-provided label, then driver and serial.
func deviceLabel(r core.Kwargs) string {
	if l := r["label"]; l != "" {
		return l
	}
	parts := []string{r[core.KeyDriver]}
	if s := r["serial"]; s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

func newMakeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "make [args]",
		Short: "Open a device, print its identity and capabilities, then release it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub(a.cfg, a.logger, a.history)
			if err != nil {
				return err
			}
			defer h.Close()

			markup := ""
			if len(args) > 0 {
				markup = args[0]
			}
			return runMake(cmd, h, markup)
		},
	}
}

func runMake(cmd *cobra.Command, h *hub, markup string) (err error) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Make device %s\n", markup)

	dev, err := h.factory.MakeString(markup)
	if err != nil {
		return fmt.Errorf("make %q: %w", markup, err)
	}
	defer func() {
		err = errors.Join(err, h.factory.Unmake(dev))
	}()

	fmt.Fprintf(out, "  driver=%s\n", dev.DriverKey())
	fmt.Fprintf(out, "  hardware=%s\n", dev.HardwareKey())
	info := dev.HardwareInfo()
	for _, k := range info.Keys() {
		fmt.Fprintf(out, "  %s=%s\n", k, info[k])
	}
	caps := core.Capabilities(dev)
	if len(caps) == 0 {
		caps = []string{"none"}
	}
	fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(caps, ", "))
	return nil
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <driver>",
		Short: "Report whether a driver is registered after loading modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub(a.cfg, a.logger, a.history)
			if err != nil {
				return err
			}
			defer h.Close()
			return runCheck(cmd, h, args[0])
		},
	}
}

func runCheck(cmd *cobra.Command, h *hub, driver string) error {
	h.modules.AutoLoad()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking driver '%s'... ", driver)
	if !slices.Contains(h.drivers.Names(), driver) {
		fmt.Fprintln(out, "MISSING!")
		return fmt.Errorf("driver %q is not registered", driver)
	}
	fmt.Fprintln(out, "PRESENT")
	return nil
}

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnostics HTTP server",
		Long: `Start the diagnostics HTTP API.

Endpoints:
  GET    /healthz
  GET    /v1/drivers
  GET    /v1/modules            POST /v1/modules/load, /v1/modules/unload
  GET    /v1/devices?args=      POST /v1/devices, DELETE /v1/devices/{id}
  GET    /v1/devices/open       GET /v1/devices/watch (websocket)
  GET    /v1/converters         GET /v1/converters/{source}/{target}
  GET    /v1/probes             GET /v1/probes/stats, /v1/modules/events
  GET    /admin/                HTML dashboard

POST and DELETE routes require a bearer token when SDRHUB_API_TOKEN or
SDRHUB_JWT_SECRET is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.Listen = listen
			}
			h, err := newHub(a.cfg, a.logger, true)
			if err != nil {
				return err
			}
			defer h.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, h, a.cfg.Listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "address to listen on (default from config)")
	return cmd
}

func runServe(ctx context.Context, h *hub, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("sdrhub server listening", "addr", addr, "auth", h.auth.Enabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if open := h.factory.Open(); len(open) > 0 {
		h.logger.Warn("devices still open at shutdown", "count", len(open))
	}
	return nil
}

func newProbesCmd(a *app) *cobra.Command {
	var (
		query  store.ProbeLogQuery
		stats  bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "probes",
		Short: "Show recorded driver probe history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHub(a.cfg, a.logger, true)
			if err != nil {
				return err
			}
			defer h.Close()
			if stats {
				return runProbeStats(cmd, h.store, output)
			}
			return runProbes(cmd, h.store, &query, output)
		},
	}
	cmd.Flags().StringVar(&query.Driver, "driver", "", "only probes of this driver")
	cmd.Flags().StringVar(&query.ArgsContains, "args", "", "only probes whose arguments contain this text")
	cmd.Flags().BoolVar(&query.ErrorsOnly, "errors", false, "only failed probes")
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", 20, "maximum number of rows")
	cmd.Flags().BoolVar(&stats, "stats", false, "per-driver aggregates instead of individual probes")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json, yaml)")
	return cmd
}

func runProbes(cmd *cobra.Command, s *store.Store, q *store.ProbeLogQuery, output string) error {
	logs, err := s.GetProbeLogs(q)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return render(out, output, logs, func() {
		t := newTable(out, table.Row{"Time", "Driver", "Args", "Results", "Duration", "Error"})
		for _, l := range logs {
			t.AppendRow(table.Row{
				l.Timestamp.Local().Format(time.DateTime),
				l.Driver,
				l.Args,
				l.ResultCount,
				time.Duration(l.DurationMs) * time.Millisecond,
				l.Error,
			})
		}
		t.Render()
	})
}

func runProbeStats(cmd *cobra.Command, s *store.Store, output string) error {
	stats, err := s.GetProbeStats()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return render(out, output, stats, func() {
		t := newTable(out, table.Row{"Driver", "Probes", "Failures", "Avg Duration"})
		for _, st := range stats {
			t.AppendRow(table.Row{st.Driver, st.Probes, st.Failures, time.Duration(st.AvgDurationMs) * time.Millisecond})
		}
		t.Render()
	})
}
