package main

import (
	"encoding/json"
	"fmt"
	"io"

	bernard "github.com/mattkeenan/bernard/pkg"
	"github.com/spf13/cobra"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

type options struct {
	verbosity  int
	debug      string
	configPath string
	format     string
	filehash   string
	deleted    string
	showAll    bool
}

// NewRootCmd creates the bernard command
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

// newRootCmd takes the shutdown channel so tests can run without installing
// signal handlers; nil installs them
func newRootCmd(shutdown <-chan struct{}) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "bernard [flags] <mapfile> <root>",
		Short: "Report files added, changed or deleted since the last run",
		Long: `bernard walks <root>, compares every regular file with the state recorded
in <mapfile> by the previous run and prints what is new, changed or deleted.
The map file is then replaced atomically with the new state. A missing map
file is treated as empty.`,
		Args:          cobra.ExactArgs(2),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			bernard.SetLogOutput(cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if shutdown == nil {
				shutdown = setupSignalHandler()
			}
			return run(cmd, opts, args[0], args[1], shutdown)
		},
	}

	flags := cmd.Flags()
	flags.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	flags.StringVar(&opts.debug, "debug", "", "Comma-separated debug flags (walk, mapfile, reconcile)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default <mapfile>.conf)")
	flags.StringVarP(&opts.format, "format", "f", "", "Output format: human or json")
	flags.StringVar(&opts.filehash, "filehash", "", "Hash algorithm: sha1, sha256 or sha512")
	flags.StringVar(&opts.deleted, "deleted", "", "What to do with deleted entries: tombstone or purge")
	flags.BoolVarP(&opts.showAll, "all", "a", false, "Also list unchanged files")

	return cmd
}

// overrides turns explicitly set flags into config overrides
func (o *options) overrides(cmd *cobra.Command) []string {
	var overrides []string
	set := func(flag, key, value string) {
		if cmd.Flags().Changed(flag) {
			overrides = append(overrides, key+":"+value)
		}
	}
	set("format", "format", o.format)
	set("filehash", "filehash", o.filehash)
	set("deleted", "deleted", o.deleted)
	set("debug", "debug", o.debug)
	if o.verbosity > 0 {
		overrides = append(overrides, fmt.Sprintf("level:%d", min(o.verbosity, 3)))
	}
	return overrides
}

func run(cmd *cobra.Command, opts *options, mapPath, root string, shutdown <-chan struct{}) error {
	configPath := opts.configPath
	if configPath == "" {
		configPath = bernard.DefaultConfigPath(mapPath)
	}
	cfg, err := bernard.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyOverrides(opts.overrides(cmd)); err != nil {
		return err
	}

	verboseConfig := cfg.GetVerboseConfig()
	bernard.SetVerboseLevel(verboseConfig.Level)
	bernard.SetDebugFlags(verboseConfig.Debug)
	bernard.Logger().Debug().Str("config", configPath).Str("map", mapPath).Str("root", root).Msg("starting run")

	reconciler, err := bernard.NewReconcilerFromConfig(mapPath, root, cfg, shutdown)
	if err != nil {
		return err
	}

	format := cfg.GetOutputConfig().Format
	out := cmd.OutOrStdout()
	if format == bernard.OutputHuman {
		reconciler.Reporter = humanReporter(out, opts.showAll)
	}

	result, runErr := reconciler.Run(shutdown)
	if result != nil && format == bernard.OutputJSON {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	}
	return runErr
}

// humanReporter prints one "<classification>\t<path>" line per file
func humanReporter(w io.Writer, showAll bool) bernard.Reporter {
	return bernard.ReporterFunc(func(path string, class bernard.Classification, err error) {
		if class == bernard.ClassUnchanged && !showAll {
			return
		}
		fmt.Fprintf(w, "%s\t%s\n", class, path)
	})
}

func writeJSON(w io.Writer, result *bernard.RunResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
