package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ligustah/farmrun/internal/reportserver"
)

func runReportServer(args []string) int {
	fs := flag.NewFlagSet("report-server", flag.ExitOnError)

	addr := fs.String("addr", ":8080", "Listen address")
	dataDir := fs.String("data", "data", "Directory that receives report files")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat := fs.String("log-format", "text", "Log format: text or json")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Grace period for open requests on shutdown")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: farmrun report-server [options]

Accept JSON reports from test devices on POST /ios-report and store each
one as <timestamp>_<experiment>_<device>_<version>.json in the data
directory.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *addr == "" || *dataDir == "" {
		fmt.Fprintln(os.Stderr, "Error: -addr and -data must not be empty")
		fs.Usage()
		return ExitInvalidArgs
	}

	log, err := newLogger(os.Stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	store, err := reportserver.NewStore(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	handler := reportserver.NewHandler(reportserver.Options{Store: store, Logger: log})
	log.Info("storing reports", "dir", store.Dir())
	if err := reportserver.ListenAndServe(ctx, log, *addr, reportserver.ServerConfig{ShutdownTimeout: *shutdownTimeout}, handler); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	return ExitSuccess
}
