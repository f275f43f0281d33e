// Package cli parses the command line of panbackup.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/tis24dev/panbackup/internal/config"
	"github.com/tis24dev/panbackup/internal/types"
	"github.com/tis24dev/panbackup/internal/version"
)

const (
	configSourceDefault    = "default path"
	configSourcePositional = "given as argument"
)

// Args holds the parsed command-line arguments
type Args struct {
	ConfigPath       string
	ConfigPathSource string
	// LogLevel is LogLevelNone when not given; the config value applies then.
	LogLevel    types.LogLevel
	LogLevelSet bool
	// Jobs overrides app.concurrency when > 0.
	Jobs        int
	ForceCLI    bool
	CheckOnly   bool
	ShowVersion bool
	ShowHelp    bool
}

func newFlagSet(argv0 string, args *Args, logLevel *stringFlag, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(argv0, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Var(logLevel, "log-level", "Log level (debug|info|warning|error|critical|none)")
	fs.Var(logLevel, "l", "Log level (shorthand)")

	fs.IntVar(&args.Jobs, "jobs", 0, "Number of entries processed concurrently (overrides app.concurrency)")
	fs.IntVar(&args.Jobs, "j", 0, "Concurrent entries (shorthand)")

	fs.BoolVar(&args.ForceCLI, "cli", false,
		"Use plain terminal prompts instead of the TUI for interactive authentication")
	fs.BoolVar(&args.CheckOnly, "check", false,
		"Load and validate the configuration, then exit without running any entry")

	fs.BoolVar(&args.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&args.ShowVersion, "v", false, "Show version information (shorthand)")
	fs.BoolVar(&args.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&args.ShowHelp, "h", false, "Show help message (shorthand)")

	fs.Usage = func() {
		printHelp(stderr, fs)
	}
	return fs
}

// Parse parses argv (without the program name). Usage errors are printed to
// stderr and returned.
func Parse(argv0 string, argv []string, stderr io.Writer) (*Args, error) {
	args := &Args{}
	logLevel := newStringFlag("")
	fs := newFlagSet(argv0, args, logLevel, stderr)

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			args.ShowHelp = true
			return args, nil
		}
		return nil, err
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
		args.ConfigPath = config.DefaultConfigPath
		args.ConfigPathSource = configSourceDefault
	case 1:
		args.ConfigPath = rest[0]
		args.ConfigPathSource = configSourcePositional
	default:
		err := fmt.Errorf("expected at most one configuration path, got %d arguments", len(rest))
		fmt.Fprintln(stderr, err)
		return nil, err
	}

	if args.Jobs < 0 {
		err := fmt.Errorf("invalid value %d for -j/--jobs: must be positive", args.Jobs)
		fmt.Fprintln(stderr, err)
		return nil, err
	}

	if logLevel.set {
		args.LogLevel = parseLogLevel(logLevel.value)
		args.LogLevelSet = true
	} else {
		args.LogLevel = types.LogLevelNone
	}
	return args, nil
}

// parseLogLevel converts string to LogLevel
func parseLogLevel(s string) types.LogLevel {
	return types.ParseLogLevel(s)
}

// PrintHelp writes the usage message.
func PrintHelp(w io.Writer, argv0 string) {
	printHelp(w, newFlagSet(argv0, &Args{}, newStringFlag(""), w))
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintln(w, version.Full())
}

func printHelp(w io.Writer, fs *flag.FlagSet) {
	argv0 := fs.Name()
	fmt.Fprintf(w, "Usage: %s [options] [config.toml]\n\n", argv0)
	fmt.Fprintln(w, "Archives the configured sources and uploads them to Baidu Netdisk and Cloud189.")
	fmt.Fprintf(w, "The configuration path defaults to %s.\n", config.DefaultConfigPath)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Options:")
	out := fs.Output()
	fs.SetOutput(w)
	fs.PrintDefaults()
	fs.SetOutput(out)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s /etc/panbackup/backup.toml\n", argv0)
	fmt.Fprintf(w, "  %s --log-level debug -j 2\n", argv0)
	fmt.Fprintf(w, "  %s --check backup.toml\n", argv0)
}

type stringFlag struct {
	value string
	set   bool
}

func newStringFlag(defaultValue string) *stringFlag {
	return &stringFlag{value: defaultValue}
}

func (s *stringFlag) String() string {
	if s == nil {
		return ""
	}
	return s.value
}

func (s *stringFlag) Set(val string) error {
	s.value = val
	s.set = true
	return nil
}
