// Package shutdown provides the signal-driven shutdown context and the
// crash dump written when startup cannot proceed.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"threadsync/pkg/logger"
)

// Abort logs a fatal startup error, writes a crash dump under the state
// dir and exits. stateDir may be empty; the dump then goes to ./crash.
func Abort(contextMsg string, err error, stateDir string) {
	logger.Error("startup_fatal", zap.String("msg", contextMsg), zap.Error(err))
	dumpPath, derr := WriteCrashDump(stateDir, contextMsg, err)
	if derr != nil {
		logger.Error("crash_dump_failed", zap.Error(derr))
		fmt.Fprintf(os.Stderr, "failed to write crash dump: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", zap.String("path", dumpPath))
		fmt.Fprintf(os.Stderr, "crash dump written: %s\n", dumpPath)
	}
	_ = logger.Sync()
	os.Exit(2)
}

// WriteCrashDump writes reason, error, environment and goroutine stacks to
// a timestamped file and returns its path.
func WriteCrashDump(stateDir, reason string, err error) (string, error) {
	crashDir := "./crash"
	if stateDir != "" {
		crashDir = filepath.Join(stateDir, "crash")
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", fmt.Errorf("create crash dir: %w", e)
	}

	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	f, ferr := os.CreateTemp(crashDir, ".crash-*.tmp")
	if ferr != nil {
		return "", fmt.Errorf("create temp crash file: %w", ferr)
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "\n--- environ ---\n")
	for _, e := range os.Environ() {
		fmt.Fprintln(f, e)
	}
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, _ = f.Write(buf[:n])
	_ = f.Sync()
	_ = f.Close()

	if err := os.Rename(tmpName, dumpPath); err != nil {
		return "", fmt.Errorf("move crash dump into place: %w", err)
	}
	_ = os.Chmod(dumpPath, 0o600)
	return dumpPath, nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", zap.String("signal", s.String()))
		cancel()
	}()
	return ctx, cancel
}
