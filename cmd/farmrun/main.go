package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitConfigError      = 3
	ExitTransferError    = 4
	ExitStorageError     = 5
	ExitScheduleError    = 6
	ExitPartialDownload  = 7
	ExitRunAborted       = 8
	ExitValidationFailed = 9
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "run":
		return runRun(cmdArgs)
	case "pool":
		return runPool(cmdArgs)
	case "report-server":
		return runReportServer(cmdArgs)
	case "archive-validate":
		return runArchiveValidate(cmdArgs)
	case "archive-delete":
		return runArchiveDelete(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: farmrun <command> [options]

Commands:
  run               Upload the app and tests, run them on a device pool and download the logs
  pool              Verify that a device pool alias selects a fixed set of devices
  report-server     Accept device reports over HTTP and store them as JSON files
  archive-validate  Verify an archived run against its manifest
  archive-delete    Remove an archived run from object storage

Run 'farmrun <command> -h' for command-specific help.`)
}
