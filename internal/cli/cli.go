// Package cli holds the flag registration and logger construction shared
// by cmd/adbtransfer, generalized from the teacher's internal/cli package:
// one place that turns command-line flags into a logrus.Logger and an
// internal/config.Config, instead of every subcommand wiring its own.
package cli

import (
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/config"
)

// BaseFlags are registered on every subcommand: logging verbosity and the
// path to the adb binary.
type BaseFlags struct {
	LogLevel string
	Verbose  bool
	AdbPath  string
}

var logLevels = []string{
	logrus.PanicLevel.String(),
	logrus.FatalLevel.String(),
	logrus.ErrorLevel.String(),
	logrus.WarnLevel.String(),
	logrus.InfoLevel.String(),
	logrus.DebugLevel.String(),
}

// flagGroup is satisfied by *kingpin.Application and *kingpin.CmdClause
// alike, so flags can be registered on the root command or on a specific
// subcommand with the same helper.
type flagGroup interface {
	Flag(name, help string) *kingpin.FlagClause
}

// RegisterBaseFlags wires the shared flags into any kingpin flag group
// (the Application itself, or one of its Commands).
func RegisterBaseFlags(flags flagGroup, base *BaseFlags) {
	flags.Flag("log", fmt.Sprintf("Detail of logs to show. Options are: %v", logLevels)).
		Default(logrus.InfoLevel.String()).EnumVar(&base.LogLevel, logLevels...)
	flags.Flag("verbose", "Alias for --log=debug.").Short('v').BoolVar(&base.Verbose)
	flags.Flag("adb", "Path to the adb binary.").Default("adb").StringVar(&base.AdbPath)
}

// RegisterConfigFlags wires every internal/config.Config knob onto a flag
// group, seeded with config.Default()'s values.
func RegisterConfigFlags(flags flagGroup, cfg *config.Config) {
	*cfg = config.Default()

	flags.Flag("workers", "Number of concurrent pushes per device.").Default(fmt.Sprint(cfg.ParallelProcesses)).IntVar(&cfg.ParallelProcesses)
	flags.Flag("chunk-size", "Chunk size in bytes for large files.").Default(fmt.Sprint(cfg.ChunkSize)).Int64Var(&cfg.ChunkSize)
	flags.Flag("small-threshold", "Files at or under this size are bundled instead of chunked.").Default(fmt.Sprint(cfg.SmallFileThreshold)).Int64Var(&cfg.SmallFileThreshold)
	flags.Flag("bundle-size", "Target size in bytes for each bundle archive.").Default(fmt.Sprint(cfg.BundleSize)).Int64Var(&cfg.BundleSize)
	flags.Flag("remote-temp", "Remote scratch directory on the device.").Default(cfg.RemoteTempDir).StringVar(&cfg.RemoteTempDir)
	flags.Flag("resume", "Skip items whose remote size already matches.").Default(fmt.Sprint(cfg.ResumeTransfer)).BoolVar(&cfg.ResumeTransfer)
	flags.Flag("sjf", "Schedule transfers shortest-job-first.").Default(fmt.Sprint(cfg.SJFScheduling)).BoolVar(&cfg.SJFScheduling)
	flags.Flag("verify-reassembly", "Verify reassembled output exists before moving it.").Default(fmt.Sprint(cfg.VerifyAfterReassembly)).BoolVar(&cfg.VerifyAfterReassembly)
	flags.Flag("verify-sizes", "Verify remote sizes after push.").Default(fmt.Sprint(cfg.VerifySizes)).BoolVar(&cfg.VerifySizes)
	flags.Flag("aggressive-cleanup", "Delete local scratch chunks once verified.").Default(fmt.Sprint(cfg.AggressiveTempCleanup)).BoolVar(&cfg.AggressiveTempCleanup)
	flags.Flag("retry-failed", "Retry individually failed items sequentially.").Default(fmt.Sprint(cfg.RetryFailedChunks)).BoolVar(&cfg.RetryFailedChunks)
	flags.Flag("max-retries", "Maximum sequential retry attempts per item.").Default(fmt.Sprint(cfg.MaxRetries)).IntVar(&cfg.MaxRetries)
	flags.Flag("reassembly-timeout", "Maximum time to wait for on-device reassembly.").Default(cfg.ReassemblyTimeout.String()).DurationVar(&cfg.ReassemblyTimeout)
	flags.Flag("delete-temp", "Delete the remote temp folder after a successful move.").Default(fmt.Sprint(cfg.DeleteTempFolder)).BoolVar(&cfg.DeleteTempFolder)
	flags.Flag("shell-mode", "Use the shell-driven reassembly protocol (Variant A) instead of the legacy interactive one (Variant B).").Default(fmt.Sprint(cfg.UseAdbShellMode)).BoolVar(&cfg.UseAdbShellMode)
	flags.Flag("strict-reuse", "Rehash on-disk chunks against their manifest before trusting reuse.").Default(fmt.Sprint(cfg.StrictReuse)).BoolVar(&cfg.StrictReuse)
}

// NewLogger builds the shared *logrus.Logger every component is handed,
// matching the teacher's single-logger-instance, text-formatter style.
func NewLogger(base BaseFlags) (*logrus.Logger, error) {
	log := logrus.New()

	level := base.LogLevel
	if base.Verbose {
		level = logrus.DebugLevel.String()
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	log.Level = parsed
	log.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	}
	return log, nil
}
