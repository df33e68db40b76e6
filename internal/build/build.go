package build

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner runs Command in Dir.
type Runner struct {
	// Dir is the working directory of the build. Empty means the current
	// directory.
	Dir string

	// Command is the build argv, e.g. ["./gradlew", "assembleDebug"].
	Command []string

	// Logger receives one line per line of build output.
	// Default: slog.Default()
	Logger *slog.Logger

	// Stdout and Stderr, if set, receive the raw build output in addition to
	// the log.
	Stdout io.Writer
	Stderr io.Writer
}

// Build runs the build command and waits for it to exit. Canceling ctx
// kills the command.
func (r *Runner) Build(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("build: no command configured")
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	line := strings.Join(r.Command, " ")
	log.Info("building artifacts", "command", line, "dir", r.Dir)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("build: start %s: %w", r.Command[0], err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward(stdout, r.Stdout, log, slog.LevelDebug)
	}()
	go func() {
		defer wg.Done()
		forward(stderr, r.Stderr, log, slog.LevelWarn)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("build: %w", ctx.Err())
		}
		return fmt.Errorf("build: %s: %w", line, err)
	}
	log.Info("build finished", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func forward(r io.Reader, raw io.Writer, log *slog.Logger, level slog.Level) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		text := sc.Text()
		if raw != nil {
			fmt.Fprintln(raw, text)
		}
		log.Log(context.Background(), level, "build output", "line", text)
	}
	// Drain whatever the scanner could not tokenize so the child never blocks.
	io.Copy(io.Discard, r)
}
