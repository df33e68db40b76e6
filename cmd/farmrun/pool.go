package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ligustah/farmrun/internal/config"
	"github.com/ligustah/farmrun/internal/orchestrator"
)

func runPool(args []string) int {
	fs := flag.NewFlagSet("pool", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	pool := fs.String("pool", "", "Device pool alias (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: farmrun pool [options]

Check that a device pool selects a fixed list of devices and print them.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *pool == "" {
		fmt.Fprintln(os.Stderr, "Error: -pool is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath, config.Config{Pool: *pool})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	log, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	ctx, cancel := signalContext(log)
	defer cancel()

	return checkPool(ctx, cfg, os.Stdout)
}

func checkPool(ctx context.Context, cfg config.Config, stdout io.Writer) int {
	ref, err := cfg.PoolARN(cfg.Pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	svc, err := newService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	p, err := svc.GetDevicePool(ctx, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: get device pool %s: %v\n", ref, err)
		return ExitGeneralError
	}

	devices, err := orchestrator.VerifyPool(p)
	fmt.Fprintf(stdout, "Pool:    %s (%s)\n", cfg.Pool, ref)
	if err != nil {
		fmt.Fprintln(stdout, "Status:  INVALID")
		fmt.Fprintf(stdout, "Error:   %v\n", err)
		return ExitConfigError
	}
	fmt.Fprintln(stdout, "Status:  VALID")
	fmt.Fprintf(stdout, "Devices: %d\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(stdout, "  %s\n", d)
	}
	return ExitSuccess
}
