package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/term"

	"github.com/tis24dev/panbackup/internal/checks"
	"github.com/tis24dev/panbackup/internal/cli"
	"github.com/tis24dev/panbackup/internal/config"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/metrics"
	"github.com/tis24dev/panbackup/internal/orchestrator"
	"github.com/tis24dev/panbackup/internal/prompt"
	"github.com/tis24dev/panbackup/internal/types"
	"github.com/tis24dev/panbackup/internal/version"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			exitCode = types.ExitPanicError.Int()
		}
	}()

	args, err := cli.Parse(os.Args[0], os.Args[1:], os.Stderr)
	if err != nil {
		return types.ExitGenericError.Int()
	}
	if args.ShowVersion {
		cli.PrintVersion(os.Stdout)
		return types.ExitSuccess.Int()
	}
	if args.ShowHelp {
		cli.PrintHelp(os.Stdout, os.Args[0])
		return types.ExitSuccess.Int()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrap.Info("%s", version.Full())
	bootstrap.Info("Loading configuration from: %s (%s)", args.ConfigPath, args.ConfigPathSource)
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}
	if args.Jobs > 0 {
		if err := cfg.OverrideConcurrency(args.Jobs); err != nil {
			bootstrap.Error("ERROR: -jobs: %v", err)
			return types.ExitConfigError.Int()
		}
	}

	level := resolveLogLevel(args, cfg)
	logger := logging.New(level, term.IsTerminal(int(os.Stdout.Fd())))
	logging.SetDefaultLogger(logger)
	if cfg.App.LogFile != "" {
		if err := logger.OpenLogFile(cfg.App.LogFile); err != nil {
			bootstrap.Warning("WARNING: cannot open log file %s: %v", cfg.App.LogFile, err)
		} else {
			defer logger.CloseLogFile()
			bootstrap.Info("Logging to %s", logger.GetLogFilePath())
		}
	}
	bootstrap.SetLevel(level)
	bootstrap.Flush(logger)

	preflight := checks.NewChecker(logger, checks.CheckerConfig{
		ArchiveDir: cfg.App.ArchiveDir,
		MinFreeGB:  cfg.App.MinFreeSpaceGB,
	}).RunAllChecks(ctx)

	if args.CheckOnly {
		describeConfig(os.Stdout, cfg)
		for _, r := range preflight {
			fmt.Fprintf(os.Stdout, "Check %s: %s\n", r.Name, r.Message)
		}
		logger.Info("Configuration is valid")
		return types.ExitSuccess.Int()
	}

	backends, err := buildBackends(logger, cfg, prompt.Select(os.Stdin, os.Stdout, args.ForceCLI))
	if err != nil {
		logger.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}

	report := orchestrator.New(logger, cfg, backends).Run(ctx)
	report.LogSummary(logger)
	if report.Interrupted {
		logger.Warning("Run interrupted by signal")
	}

	code := report.ExitCode()
	if dir := cfg.App.MetricsDir; dir != "" {
		if err := metrics.NewPrometheusExporter(dir, logger).Export(report.Metrics()); err != nil {
			logger.Warning("Failed to export metrics: %v", err)
		}
	}

	printFinalSummary(os.Stdout, logger, code)
	return code.Int()
}

func resolveLogLevel(args *cli.Args, cfg *config.Config) types.LogLevel {
	if args.LogLevelSet {
		return args.LogLevel
	}
	if cfg.App.LogLevel != "" {
		return types.ParseLogLevel(cfg.App.LogLevel)
	}
	return types.LogLevelInfo
}

func printFinalSummary(w io.Writer, logger *logging.Logger, code types.ExitCode) {
	colorReset := "\033[0m"
	color := ""
	if logger.UsesColor() {
		switch {
		case code == types.ExitInterrupted:
			color = "\033[35m"
		case code == types.ExitSuccess && (logger.HasWarnings() || logger.HasErrors()):
			color = "\033[33m"
		case code == types.ExitSuccess:
			color = "\033[32m"
		default:
			color = "\033[31m"
		}
	} else {
		colorReset = ""
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s===========================================\n", color)
	fmt.Fprintf(w, "%s - exit %d (%s)\n", version.Full(), code.Int(), code)
	fmt.Fprintf(w, "===========================================%s\n", colorReset)
}
