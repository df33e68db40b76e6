package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/farmrun/pkg/archive"
)

// runArchiveValidate checks that every file listed in an archived run's
// manifest exists with the recorded size.
func runArchiveValidate(args []string) int {
	fs := flag.NewFlagSet("archive-validate", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	runID := fs.String("run", "", "Run id (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: farmrun archive-validate [options]

Verify that an archived run is complete. Only object attributes are read.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *bucket == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -run are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext(slog.Default())
	defer cancel()

	return validateArchive(ctx, *bucket, *runID, os.Stdout)
}

func validateArchive(ctx context.Context, bucketURL, runID string, stdout io.Writer) int {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := archive.Validate(ctx, bkt, runID)
	if err != nil {
		if archive.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: no archived run %s\n", runID)
			return ExitValidationFailed
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stdout, "Run: %s\n", runID)
	fmt.Fprintf(stdout, "Total size: %s\n", humanize.IBytes(uint64(result.TotalSize)))
	fmt.Fprintf(stdout, "Files: %d\n", result.FileCount)

	if result.Valid {
		fmt.Fprintln(stdout, "Status: VALID")
		return ExitSuccess
	}

	fmt.Fprintln(stdout, "Status: INVALID")
	fmt.Fprintf(stdout, "Missing files: %d\n", result.MissingFiles)
	fmt.Fprintf(stdout, "Size mismatches: %d\n", result.SizeMismatches)
	if len(result.Errors) > 0 {
		fmt.Fprintln(stdout, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
	}
	return ExitValidationFailed
}

// runArchiveDelete removes an archived run. It prompts for confirmation
// unless -force is given.
func runArchiveDelete(args []string) int {
	fs := flag.NewFlagSet("archive-delete", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	runID := fs.String("run", "", "Run id (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: farmrun archive-delete [options]

Remove an archived run and its manifest from object storage.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *bucket == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -run are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	if !*force && !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Delete archived run %s from %s? [y/N]: ", *runID, *bucket)) {
		fmt.Fprintln(os.Stderr, "Cancelled")
		return ExitSuccess
	}

	ctx, cancel := signalContext(slog.Default())
	defer cancel()

	return deleteArchive(ctx, *bucket, *runID, os.Stdout)
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func deleteArchive(ctx context.Context, bucketURL, runID string, stdout io.Writer) int {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	if err := archive.Delete(ctx, bkt, runID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stdout, "Deleted archived run %s\n", runID)
	return ExitSuccess
}
