package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/provdump/provdump/internal/dumping"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <dump-dir>",
		Short: "Show the tracking state of an existing dump tree",
		Long: `Show what a dump tree contains according to its tracking log:
record counts per registry and the time of the last completed dump.

Example:
  provdump status ./dump`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, opts *RootOptions, dir string) error {
	logPath := filepath.Join(dir, dumping.TrackingLogFileName)
	tracker, err := dumping.LoadTracker(logPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load tracking log", err)
	}

	calcs := tracker.Registry(dumping.RegistryCalculations).Len()
	workflows := tracker.Registry(dumping.RegistryWorkflows).Len()

	last := "never"
	if t := tracker.LastDumpTime(); t != nil {
		last = t.Format("2006-01-02 15:04:05 MST")
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(fmt.Sprintf(
		"calculations: %d, workflows: %d, last dump: %s", calcs, workflows, last))
}
