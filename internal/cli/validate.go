package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foreigner-chat/chatload/internal/config"
	"github.com/foreigner-chat/chatload/internal/engine"
	"github.com/foreigner-chat/chatload/internal/scenario"
	"github.com/foreigner-chat/chatload/internal/scheduler"
)

func newValidateCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Check a configuration file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(args[0], opts)
			if err == nil {
				err = checkScenario(cfg)
			}
			if err != nil {
				return withExitCode(engine.ExitInvalidConfig, err)
			}
			printPlan(cmd, cfg)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.overrides.Scenario, "scenario", "", "Built-in scenario to run")
	f.StringVar(&opts.overrides.Stages, "stages", "", "Ramp profile override")
	f.StringVar(&opts.overrides.BaseURL, "base-url", "", "Chat REST API base URL")
	f.StringVar(&opts.overrides.WSURL, "ws-url", "", "Chat WebSocket URL")
	return cmd
}

// checkScenario verifies that the scenario exists and that the settings
// it needs are present, without touching the network or the fixtures.
func checkScenario(cfg *config.RunConfig) error {
	d, ok := scenario.Lookup(cfg.Scenario)
	if !ok {
		errs := &config.ValidationErrors{}
		errs.Add("scenario", fmt.Sprintf("unknown scenario %q (available: %s)", cfg.Scenario, strings.Join(scenario.Names(), ", ")))
		return errs
	}
	errs := &config.ValidationErrors{}
	for _, need := range d.Missing(cfg.Settings) {
		errs.Add("settings."+need, fmt.Sprintf("required by scenario %q", d.Name))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func printPlan(cmd *cobra.Command, cfg *config.RunConfig) {
	out := cmd.OutOrStdout()
	sc := cfg.SchedulerConfig()

	fmt.Fprintf(out, "Configuration is valid: %s (scenario %s)\n\n", cfg.Name, cfg.Scenario)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tDURATION\tTARGET")
	for _, st := range sc.Stages {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", st.Name, st.Duration, st.Target)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\nTotal %s, peak %d VUs, graceful stop %s\n",
		scheduler.TotalDuration(sc.Stages), peakTarget(sc.Stages), sc.GracefulStop)

	if len(cfg.Thresholds) > 0 {
		names := make([]string, 0, len(cfg.Thresholds))
		for name := range cfg.Thresholds {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, "\nThresholds:")
		for _, name := range names {
			fmt.Fprintf(out, "  %s: %s\n", name, strings.Join(cfg.Thresholds[name], ", "))
		}
	}
}

func peakTarget(stages []scheduler.Stage) int {
	peak := 0
	for _, st := range stages {
		if st.Target > peak {
			peak = st.Target
		}
	}
	return peak
}
