package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/provdump/provdump/internal/dumping"
	"github.com/provdump/provdump/internal/orm"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	Out      string

	Process string
	Group   string
	Profile bool

	ConfigFile string
	Mode       string
	DryRun     bool
	Overwrite  bool

	IncludeInputs  bool
	IncludeOutputs bool
	FlatLayout     bool
	SymlinkCalcs   bool
	AlsoUngrouped  bool
	Groups         []string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump a process, group, or profile to a filesystem tree",
		Long: `Dump the selected target onto a filesystem tree, incrementally.

Exactly one of --process, --group, or --profile selects the target. Repeated
invocations against the same output tree only re-dump what changed.

Example:
  provdump dump --db ./graph.db --process 5a31... --out ./dump
  provdump dump --db ./graph.db --profile --out ./dump --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the graph store database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output tree root (default derived from the target)")

	cmd.Flags().StringVar(&opts.Process, "process", "", "UUID of the process node to dump")
	cmd.Flags().StringVar(&opts.Group, "group", "", "label or UUID of the group to dump")
	cmd.Flags().BoolVar(&opts.Profile, "profile", false, "dump the entire profile")

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "detect changes and report, mutate nothing")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "recreate leaf directories missing the safeguard marker")

	cmd.Flags().BoolVar(&opts.IncludeInputs, "include-inputs", true, "dump linked input files of calculations")
	cmd.Flags().BoolVar(&opts.IncludeOutputs, "include-outputs", false, "dump linked output files of calculations")
	cmd.Flags().BoolVar(&opts.FlatLayout, "flat", false, "flatten calculation content into the node directory")
	cmd.Flags().BoolVar(&opts.SymlinkCalcs, "symlink-calcs", false, "symlink calculations dumped under a second location")
	cmd.Flags().BoolVar(&opts.AlsoUngrouped, "also-ungrouped", false, "also dump nodes that belong to no group")
	cmd.Flags().StringSliceVar(&opts.Groups, "groups", nil, "restrict a profile dump to these groups")

	return cmd
}

func runDump(cmd *cobra.Command, opts *DumpOptions) error {
	log := newLogger(opts.Verbose)

	cfg, err := buildConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	store, err := orm.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open graph store", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	target, defaultDir, err := resolveTarget(cmd, store, opts)
	if err != nil {
		return err
	}

	out := opts.Out
	if out == "" {
		out = defaultDir
	}

	engine, err := dumping.New(store, target, out, cfg,
		dumping.WithLogger(log),
		dumping.WithReportWriter(cmd.OutOrStdout()),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize engine", err)
	}

	if err := engine.Dump(ctx); err != nil {
		return WrapExitError(ExitFailure, "dump failed", err)
	}

	if !opts.DryRun {
		abs, _ := filepath.Abs(out)
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		return formatter.Success(fmt.Sprintf("dump completed: %s", abs))
	}
	return nil
}

// buildConfig merges defaults, the optional config file, and flags, in that
// order of precedence.
func buildConfig(opts *DumpOptions) (dumping.Config, error) {
	cfg := dumping.DefaultConfig()

	if opts.ConfigFile != "" {
		loaded, err := dumping.LoadConfigFile(opts.ConfigFile, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	switch {
	case opts.DryRun && opts.Overwrite:
		return cfg, dumping.NewConfigError("--dry-run and --overwrite are mutually exclusive")
	case opts.DryRun:
		cfg.Mode = dumping.ModeDryRun
	case opts.Overwrite:
		cfg.Mode = dumping.ModeOverwrite
	}

	cfg.IncludeInputs = opts.IncludeInputs
	cfg.IncludeOutputs = opts.IncludeOutputs
	cfg.FlatLayout = opts.FlatLayout
	cfg.SymlinkCalcs = opts.SymlinkCalcs
	cfg.AlsoUngrouped = opts.AlsoUngrouped
	if len(opts.Groups) > 0 {
		cfg.Groups = opts.Groups
		cfg.AllEntries = false
	}

	return cfg, cfg.Validate()
}

// resolveTarget loads the selected dump target and derives the default
// output directory name for it.
func resolveTarget(cmd *cobra.Command, store *orm.Store, opts *DumpOptions) (dumping.Target, string, error) {
	ctx := cmd.Context()

	selected := 0
	for _, on := range []bool{opts.Process != "", opts.Group != "", opts.Profile} {
		if on {
			selected++
		}
	}
	if selected != 1 {
		return nil, "", NewExitError(ExitCommandError, "exactly one of --process, --group, or --profile is required")
	}

	switch {
	case opts.Process != "":
		id, err := uuid.Parse(opts.Process)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "invalid process UUID", err)
		}
		node, err := store.NodeByUUID(ctx, id)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "failed to load process node", err)
		}
		return dumping.ProcessTarget{Node: node}, dumping.DefaultDumpDirName("dump", dumping.NodeDirName(node), 0), nil

	case opts.Group != "":
		group, err := loadGroup(cmd, store, opts.Group)
		if err != nil {
			return nil, "", err
		}
		return dumping.GroupTarget{Group: group}, dumping.DefaultDumpDirName("dump", group.Label, group.PK), nil

	default:
		name := filepath.Base(opts.Database)
		return dumping.ProfileTarget{Name: name}, dumping.DefaultDumpDirName("dump", name, 0), nil
	}
}

func loadGroup(cmd *cobra.Command, store *orm.Store, identifier string) (*orm.Group, error) {
	ctx := cmd.Context()
	if group, err := store.GroupByLabel(ctx, identifier); err == nil {
		return group, nil
	}
	id, err := uuid.Parse(identifier)
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown group %q", identifier))
	}
	group, err := store.GroupByUUID(ctx, id)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load group", err)
	}
	return group, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
