package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ligustah/farmrun/internal/config"
	"github.com/ligustah/farmrun/internal/devicefarm"
	"github.com/ligustah/farmrun/internal/downloader"
	"github.com/ligustah/farmrun/internal/farm"
	farmhttp "github.com/ligustah/farmrun/internal/http"
	"github.com/ligustah/farmrun/internal/orchestrator"
	"github.com/ligustah/farmrun/internal/poll"
)

// newService connects to the device farm. Tests replace it.
var newService = func(ctx context.Context, cfg config.Config) (farm.Service, error) {
	svc, err := devicefarm.NewFromConfig(ctx, cfg.Region, cfg.Retry.Attempts)
	if err != nil {
		return nil, fmt.Errorf("connect to device farm: %w", err)
	}
	return svc, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Warn("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// newLogger builds the process logger. format is "text" or "json".
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", level)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// loadConfig layers defaults, the optional file, the environment and the
// command line overrides.
func loadConfig(path string, override config.Config) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg.Merge(override), nil
}

// pollOptions converts a poll section. A max interval above the interval
// turns on backoff by a factor of 1.5.
func pollOptions(pc config.PollConfig) poll.Options {
	opts := poll.Options{
		Interval:    pc.PollInterval,
		MaxInterval: pc.MaxPollInterval,
		MaxWait:     pc.MaxWait,
	}
	if pc.MaxPollInterval > pc.PollInterval {
		opts.Multiplier = 1.5
	}
	return opts
}

func httpOptions(cfg config.Config) farmhttp.Options {
	opts := farmhttp.DefaultOptions()
	opts.RetryAttempts = cfg.Retry.Attempts
	if cfg.Retry.Backoff > 0 {
		opts.RetryBackoff = cfg.Retry.Backoff
	}
	if cfg.Retry.MaxBackoff > 0 {
		opts.RetryMaxBackoff = cfg.Retry.MaxBackoff
	}
	return opts
}

// exitCodeFor maps an error to the process exit code. Aborts and
// cancellation are checked first: they wrap the errors they interrupted,
// including download failures.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		abortErr    *orchestrator.AbortError
		configErr   *farm.ConfigurationError
		transferErr *farmhttp.TransferError
		remoteErr   *farm.RemoteProcessingError
		scheduleErr *farm.ScheduleError
		partialErr  *downloader.PartialFailure
	)
	switch {
	case errors.As(err, &abortErr), errors.Is(err, context.Canceled):
		return ExitRunAborted
	case errors.As(err, &configErr):
		return ExitConfigError
	case errors.As(err, &scheduleErr):
		return ExitScheduleError
	case errors.As(err, &partialErr):
		return ExitPartialDownload
	case errors.As(err, &transferErr), errors.As(err, &remoteErr):
		return ExitTransferError
	default:
		return ExitGeneralError
	}
}
