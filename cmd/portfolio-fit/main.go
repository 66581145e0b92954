// Command portfolio-fit scores repositories against the portfolio rubric
// and recalibrates the rubric against expert labels.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/workspace"
)

// command describes a CLI subcommand.
type command struct {
	name  string
	short string
	usage string
	long  string
	run   func(a *app, args []string) error
}

// commands is filled in init because the run funcs reach usageLine,
// which reads the table.
var commands []command

func init() {
	commands = []command{
		{
			name:  "evaluate",
			short: "Score repositories and write a results file",
			usage: "portfolio-fit evaluate [--dir DIR] [--repo URL]... [--out FILE] [--bundles DIR]",
			long: `Score every child directory of --dir and every --repo URL.

Remote repositories are cloned into a cache directory first. Each
repository is aggregated into a results entry; a repository whose probes
break the signal contract is reported as failed and the batch continues.

Flags:
  --dir DIR          directory whose children are repositories (default ".")
  --repo URL         remote repository, may be repeated
  --out FILE         results file (default "results.json")
  --bundles DIR      also write a markdown evidence vault
  --concurrency N    repositories evaluated in parallel (default 4)
  --cache DIR        clone cache for --repo
  --metrics FILE     write Prometheus metrics in textfile format
`,
			run: runEvaluate,
		},
		{
			name:  "detect",
			short: "Print the stack profile of a repository",
			usage: "portfolio-fit detect <path>",
			long: `Detect the stack profile of a local repository from its manifests.
`,
			run: runDetect,
		},
		{
			name:  "calibrate",
			short: "Compare model scores with expert labels",
			usage: "portfolio-fit calibrate --labels CSV --results JSON [--out PREFIX]",
			long: `Correlate the total scores of a results file with expert labels.

Writes <PREFIX>.json and <PREFIX>.txt (default "calibration_report").
`,
			run: runCalibrate,
		},
		{
			name:  "tune",
			short: "Suggest criterion weights from expert labels",
			usage: "portfolio-fit tune --labels CSV --results JSON [--out FILE] [--apply CONFIG]",
			long: `Suggest new criterion max weights that keep every block budget.

Writes the proposal to --out (default "scoring_config_patch.json"). With
--apply the tuned config is written to CONFIG after backing up the
current file; the change is confirmed first unless --yes is given.

Flags:
  --min-samples N    minimum labelled samples per criterion
  --apply CONFIG     write the tuned config to CONFIG
  --yes              do not ask for confirmation
`,
			run: runTune,
		},
		{
			name:  "recalibrate",
			short: "Run calibration and tuning for a profile",
			usage: "portfolio-fit recalibrate --profile NAME --results JSON [--stack auto] [--apply CONFIG]",
			long: `Run the full recalibration workflow for a profile workspace.

Calibrates the results against the profile's golden set, tunes the
weights on the same samples and writes reports and tuned configs under
the profile directory. The run is recorded in the workspace history.

Flags:
  --labels CSV       labels file (default: the profile golden set)
  --stack NAME       auto, all or a stack profile (default "auto")
  --strict           fail when auto cannot pick one stack (default true)
  --min-samples N    minimum labelled samples per criterion
  --base-config FILE config the tuned weights are merged into
  --apply CONFIG     also write the tuned config to CONFIG
  --yes              do not ask for confirmation
`,
			run: runRecalibrate,
		},
		{
			name:  "split-labels",
			short: "Split a golden set into per-stack label files",
			usage: "portfolio-fit split-labels --profile NAME --results JSON [--all-stacks]",
			long: `Write labels/by_stack/golden_set_<stack>.csv for each stack group.
`,
			run: runSplitLabels,
		},
		{
			name:  "golden-set",
			short: "Prepare a labelling template for a profile",
			usage: "portfolio-fit golden-set --profile NAME --results JSON [--size N]",
			long: `Select a stratified sample of repositories into the profile golden set.

Flags:
  --size N       rows to select (default 36)
  --stack NAME   only select repositories of one stack profile
  --autofill     fill expert_score with a provisional estimate
  --force        overwrite an existing golden set
`,
			run: runGoldenSet,
		},
		{
			name:  "label",
			short: "Enter expert scores for unlabelled repositories",
			usage: "portfolio-fit label --profile NAME",
			long: `Prompt for an expert score for every golden set row without one.

An empty answer skips the repository. Scores must be within the total
scale of the config.
`,
			run: runLabel,
		},
		{
			name:  "profiles",
			short: "List recalibration profiles",
			usage: "portfolio-fit profiles [--remove NAME]",
			long: `List the profiles of the workspace with their latest run.
`,
			run: runProfiles,
		},
		{
			name:  "history",
			short: "List recorded recalibration runs",
			usage: "portfolio-fit history [--profile NAME] [--limit N]",
			long: `List recalibration runs newest first.
`,
			run: runHistory,
		},
		{
			name:  "snapshot",
			short: "Copy a profile directory",
			usage: "portfolio-fit snapshot --profile NAME --dest DIR",
			long: `Copy a profile directory to DIR/<profile>-YYYYMMDD_HHMMSS.
`,
			run: runSnapshot,
		},
	}
}

// app carries the global options shared by every command.
type app struct {
	log        *slog.Logger
	out        io.Writer
	configPath string
}

// config loads the --config file, or the built-in rubric when unset.
func (a *app) config() (config.Config, error) {
	return config.Load(a.configPath)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "portfolio-fit: evidence-aware repository scoring\n\n")
	fmt.Fprintf(w, "Usage:\n  portfolio-fit [--config FILE] [--verbose] [--log-json] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-13s %s\n", cmd.name, cmd.short)
	}
	fmt.Fprintf(w, "\nRun 'portfolio-fit help <command>' for details on a specific command.\n")
}

func printCommandHelp(w io.Writer, name string) {
	for _, cmd := range commands {
		if cmd.name == name {
			fmt.Fprintf(w, "Usage: %s\n\n%s", cmd.usage, cmd.long)
			return
		}
	}
	fmt.Fprintf(w, "portfolio-fit: unknown command %q\n\nRun 'portfolio-fit help' for usage.\n", name)
}

// newLogger builds the process logger on w.
func newLogger(w io.Writer, jsonFormat, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func dispatch(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("portfolio-fit", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "scoring config file")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	logJSON := fs.Bool("log-json", false, "log in JSON")
	help := fs.BoolP("help", "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n\nRun 'portfolio-fit help' for usage.", err)
	}
	args = fs.Args()

	if len(args) == 0 || *help {
		printUsage(stdout)
		return nil
	}
	if args[0] == "help" {
		if len(args) >= 2 {
			printCommandHelp(stdout, args[1])
		} else {
			printUsage(stdout)
		}
		return nil
	}
	a := &app{
		log:        newLogger(stderr, *logJSON, *verbose),
		out:        stdout,
		configPath: *configPath,
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(a, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q\n\nRun 'portfolio-fit help' for usage.", args[0])
}

// newFlags returns a flag set for a command that reports its own usage.
func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parse parses args and turns a flag error into a usage error.
func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return usageError(fs.Name())
		}
		return fmt.Errorf("%s: %w\n%s", fs.Name(), err, usageLine(fs.Name()))
	}
	return nil
}

func usageLine(name string) string {
	for _, cmd := range commands {
		if cmd.name == name {
			return "usage: " + cmd.usage
		}
	}
	return "usage: portfolio-fit " + name
}

func usageError(name string) error {
	return errors.New(usageLine(name))
}

func main() {
	if err := dispatch(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "portfolio-fit:", err)
		os.Exit(1)
	}
}

// workspace resolves the workspace of the loaded config.
func (a *app) workspace() (*workspace.Workspace, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return workspace.New(cfg)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
