package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"

	"pv/internal/config"
	"pv/internal/copier"
	"pv/internal/pkg/gctx"
	"pv/internal/pkg/global"
	"pv/internal/progress"
	"pv/internal/source"
)

const (
	ExitSuccess     = 0
	ExitIOError     = 1
	ExitInvalidArgs = 2
)

// how long an interrupted copy may take to notice its closed input before the process exits.
const interruptGrace = 500 * time.Millisecond

var exit = os.Exit

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run copies the input named by args (or stdin) to stdout and returns the process exit code.
func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: stderr})

	fs := pflag.NewFlagSet("pv", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	config.Flags(fs)
	var configFilePath = fs.String("config-file", "", "path to a TOML config file")
	var logLevel = fs.String("log-level", "info", "log level: trace, debug, info, warn or error")

	var profiling = fs.Bool("profile", false, "enable profiling for CPU and Memory")
	var profileCpu = fs.Bool("profile-cpu", false, "enable CPU profiling only")
	var profileMem = fs.Bool("profile-memory", false, "enable Memory profiling only")

	var version = fs.BoolP("version", "V", false, "print version and exit")
	var help = fs.BoolP("help", "h", false, "print this help menu")

	if err := fs.Parse(args); err != nil {
		log.Error().Err(err).Msg("invalid arguments")
		return ExitInvalidArgs
	}

	if *help {
		fmt.Fprintf(stdout, "Usage: pv [options] [INFILE]\n\nOptions:\n%s", fs.FlagUsages())
		fmt.Fprintln(stdout, "\nOptions can also be set with PV_* environment variables, e.g. PV_BLOCKSIZE=4k.")
		return ExitSuccess
	}

	if *version {
		fmt.Fprintln(stdout, "pv", global.Version)
		return ExitSuccess
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Error().Err(err).Msg("invalid log level")
		return ExitInvalidArgs
	}
	zerolog.SetGlobalLevel(level)

	if fs.NArg() > 1 {
		log.Error().Strs("args", fs.Args()).Msg("expecting at most one input file")
		return ExitInvalidArgs
	}

	var cfg config.Config
	if *configFilePath != "" {
		cfg, err = config.LoadFromFile(*configFilePath)
		if err != nil {
			log.Error().Err(err).Str("path", *configFilePath).Msg("failed to load config")
			return ExitInvalidArgs
		}
	}

	v := lo.Must(config.NewViper(fs, cfg))

	settings, err := config.Resolve(v)
	if err != nil {
		log.Error().Err(err).Msg("invalid settings")
		return ExitInvalidArgs
	}

	if *profileCpu || *profileMem || *profiling {
		var opt = []func(*profile.Profile){profile.Quiet}
		if *profileCpu || *profiling {
			opt = append(opt, profile.CPUProfile)
		}
		if *profileMem || *profiling {
			opt = append(opt, profile.MemProfile)
		}
		defer profile.Start(opt...).Stop()
	}

	src, err := source.Resolve(fs.Arg(0), stdin)
	if err != nil {
		log.Error().Err(err).Msg("failed to open input")
		return ExitIOError
	}
	defer src.Close()

	if src.Name() != source.StdinName && !settings.Quiet {
		log.Info().Str("path", src.Name()).Int64("size", src.Size()).Msg("input file")
	}
	log.Debug().Str("input", src.Name()).Int("block_size", settings.BlockSize).Msg("start copy")

	total := src.Size()
	if settings.Size > 0 {
		total = settings.Size
	}

	tracker := progress.New(stderr, progress.Options{
		Total:    total,
		Interval: settings.Interval,
		Width:    settings.Width,
		Quiet:    settings.Quiet,
		Hidden:   settings.TTYOnly && !isTerminal(stderr),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limited := source.Limit(gctx.NewReader(ctx, src), settings.RateLimit)

	start := time.Now()
	elapsed := func() time.Duration { return time.Since(start) }

	c, err := copier.New(stdout, limited, copier.Options{
		BlockSize: settings.BlockSize,
		Progress:  tracker.Update,
		Clock:     elapsed,
	})
	if err != nil {
		log.Error().Err(err).Msg("invalid block size")
		return ExitInvalidArgs
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		// a second signal gets the default behavior
		stop()
	}()
	go watchInterrupt(ctx, src, done, interruptGrace)

	err = c.Run(ctx)
	close(done)

	if err != nil {
		if tracker.Renders() > 0 {
			fmt.Fprintln(stderr)
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Error().Int64("written", c.Written()).Msg("interrupted")
		} else {
			log.Error().Err(err).Int64("written", c.Written()).Msg("copy failed")
		}
		return ExitIOError
	}

	tracker.Finish(elapsed())

	// the monitor only accounts for the last partial sample once done
	limited.Done()
	st := limited.Status()
	log.Debug().
		Int64("bytes", st.Bytes).
		Str("avg_rate", humanize.IBytes(uint64(st.AvgRate))+"/s").
		Str("peak_rate", humanize.IBytes(uint64(st.PeakRate))+"/s").
		Int("writes", c.Writes()).
		Msg("transfer stats")

	return ExitSuccess
}

// watchInterrupt closes src once ctx is canceled so a Read blocked on a pipe returns.
// Reads that closing cannot interrupt, such as on a blocking terminal, end the process after grace.
func watchInterrupt(ctx context.Context, src io.Closer, done <-chan struct{}, grace time.Duration) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	select {
	case <-done:
		return
	default:
	}

	if err := src.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close input")
	}

	select {
	case <-done:
	case <-time.After(grace):
		log.Error().Msg("interrupted while waiting for input")
		exit(ExitIOError)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
