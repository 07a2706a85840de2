package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	geigersim "github.com/srg/geigersim"
	"github.com/srg/geigersim/internal/scenario"
	"github.com/srg/geigersim/pkg/config"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a Lua scenario against the simulated transport",
	Long: `Runs a Lua scenario that plays the central against the sensor on a simulated
transport with a bounded transmit buffer, then prints the transcript.

Scenario globals:
  subscribe(name)  unsubscribe(name)  write(name, value)  read(name)
  deliver([n])     received()         notification(i)     state(name)
  power(on)        notify(message)    stats()             print(...)

Examples:
  # Run the built-in demo scenario
  geigersim simulate

  # Force backpressure with a tiny transmit buffer
  geigersim simulate --script flood.lua --capacity 24

  # Machine-readable transcript
  geigersim simulate --format json`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simulateScript   string
	simulateCapacity int
	simulateCatalog  string
	simulateName     string
	simulateFormat   string
	simulateVerbose  bool
)

func init() {
	defaults := config.DefaultConfig()
	simulateCmd.Flags().StringVar(&simulateScript, "script", "", "Lua scenario file (built-in demo by default)")
	simulateCmd.Flags().IntVar(&simulateCapacity, "capacity", defaults.SimBufferSize, "Simulated transmit buffer size in bytes")
	simulateCmd.Flags().StringVar(&simulateCatalog, "catalog", "", "Catalog YAML file (built-in sensor catalog by default)")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "Advertised local name (overrides the catalog)")
	simulateCmd.Flags().StringVar(&simulateFormat, "format", "text", "Output format: text, json")
	simulateCmd.Flags().BoolVar(&simulateVerbose, "verbose", false, "Enable debug logging")
}

type simulateReport struct {
	Scenario      string               `json:"scenario"`
	Output        []string             `json:"output"`
	Notifications []notificationReport `json:"notifications"`
	Stats         statsReport          `json:"stats"`
	Error         string               `json:"error,omitempty"`
}

type notificationReport struct {
	Characteristic string `json:"characteristic"`
	Value          string `json:"value"`
}

type statsReport struct {
	Sent      int64    `json:"sent"`
	Rejected  int64    `json:"rejected"`
	Faults    int64    `json:"faults"`
	Cycles    int64    `json:"cycles"`
	Active    []string `json:"active"`
	Writes    int64    `json:"writes"`
	Ignored   int64    `json:"ignored"`
	Malformed int64    `json:"malformed"`
	Unknown   int64    `json:"unknown"`
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	cfg.CatalogPath = simulateCatalog
	cfg.LocalName = simulateName
	cfg.SimBufferSize = simulateCapacity
	cfg.OutputFormat = simulateFormat

	if cfg.OutputFormat != "text" && cfg.OutputFormat != "json" {
		return fmt.Errorf("%w: %s (must be text or json)", ErrUnknownFormat, cfg.OutputFormat)
	}
	if cfg.SimBufferSize < 4 {
		return fmt.Errorf("--capacity must be at least 4 bytes, got %d", cfg.SimBufferSize)
	}

	// Quiet by default so the transcript stays readable.
	cfg.LogLevel = logrus.PanicLevel
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	name, script := "scenario.lua", geigersim.DefaultScenarioLuaScript
	if simulateScript != "" {
		data, err := os.ReadFile(simulateScript)
		if err != nil {
			return err
		}
		name, script = filepath.Base(simulateScript), string(data)
	}

	cat, reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	runner := scenario.New(scenario.Options{
		BufferSize:  cfg.SimBufferSize,
		ServiceUUID: cat.Service,
		LocalName:   cat.Name,
		Registry:    reg,
		Logger:      logger,
	})
	defer func() { _ = runner.Peripheral().Stop() }()

	res, runErr := runner.Run(name, script)
	if res == nil {
		return runErr
	}

	report := newSimulateReport(name, res)
	if runErr != nil {
		report.Error = FormatUserError(runErr)
	}

	out := cmd.OutOrStdout()
	if cfg.OutputFormat == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		writeTranscript(out, report)
	}
	return runErr
}

func newSimulateReport(name string, res *scenario.Result) simulateReport {
	report := simulateReport{
		Scenario:      name,
		Output:        res.Output,
		Notifications: make([]notificationReport, 0, len(res.Notifications)),
		Stats: statsReport{
			Sent:      res.Stats.Engine.Sent,
			Rejected:  res.Stats.Engine.Rejected,
			Faults:    res.Stats.Engine.Faults,
			Cycles:    res.Stats.Engine.Cycles,
			Active:    make([]string, 0, len(res.Stats.Active)),
			Writes:    res.Stats.Dispatch.Writes,
			Ignored:   res.Stats.Dispatch.Ignored,
			Malformed: res.Stats.Dispatch.Malformed,
			Unknown:   res.Stats.Dispatch.Unknown + res.Stats.Engine.Unknown,
		},
	}
	if report.Output == nil {
		report.Output = []string{}
	}
	for _, n := range res.Notifications {
		report.Notifications = append(report.Notifications, notificationReport{
			Characteristic: string(n.ID),
			Value:          string(n.Payload),
		})
	}
	for _, id := range res.Stats.Active {
		report.Stats.Active = append(report.Stats.Active, string(id))
	}
	return report
}

func writeTranscript(w io.Writer, report simulateReport) {
	pal := newPalette(w)

	fmt.Fprintln(w, pal.header.Sprintf("== %s", report.Scenario))
	for _, line := range report.Output {
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, pal.header.Sprintf("== %d notifications", len(report.Notifications)))
	for _, n := range report.Notifications {
		fmt.Fprintf(w, "  %s %s\n", pal.name.Sprint(n.Characteristic), n.Value)
	}

	s := report.Stats
	rejected := pal.good
	if s.Rejected > 0 {
		rejected = pal.warn
	}
	faults := pal.good
	if s.Faults > 0 {
		faults = pal.bad
	}
	fmt.Fprintf(w, "sent %s  rejected %s  faults %s  cycles %d  active %d\n",
		pal.good.Sprint(s.Sent), rejected.Sprint(s.Rejected), faults.Sprint(s.Faults), s.Cycles, len(s.Active))
}
