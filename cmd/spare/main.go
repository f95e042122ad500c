package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Chapsvision-dev/spare/internal/backup"
	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/logx"
	"github.com/Chapsvision-dev/spare/internal/provider"
	"github.com/Chapsvision-dev/spare/internal/restore"

	_ "github.com/Chapsvision-dev/spare/internal/provider/azureblob"
	_ "github.com/Chapsvision-dev/spare/internal/provider/gdrive"
)

// Test seams, overridden in unit tests. Keep signatures in sync with packages.
var (
	initConfig func() error                                                                                         = config.Initialize
	loadConfig func(path, profile string) (config.Config, error)                                                    = config.Load
	newDest    func(name string, cfg config.Config) (provider.Destination, error)                                   = provider.New
	runBackup  func(context.Context, config.Profile, provider.Destination, backup.Options) (backup.Result, error)   = backup.Run
	runRestore func(context.Context, config.Profile, provider.Destination, restore.Options) (restore.Result, error) = restore.Run
	browse     func(context.Context, config.Profile, provider.Destination) (restore.Catalog, error)                 = restore.Browse
	stdout     io.Writer                                                                                            = os.Stdout
	stderr     io.Writer                                                                                            = os.Stderr
	exit       func(int)                                                                                            = os.Exit
)

// runtimeError marks failures of a command that was invoked correctly.
type runtimeError struct{ err error }

func (e runtimeError) Error() string { return e.err.Error() }
func (e runtimeError) Unwrap() error { return e.err }

// main wires CLI -> config -> provider -> backup/list/restore.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	closer := logx.InitFromEnv(config.LogPath())

	code := run(withSignals(context.Background()), os.Args[1:])
	_ = closer.Close()
	exit(code)
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	// Runtime errors are already logged.
	if code == 2 {
		fmt.Fprintf(stderr, "Error: %v\nRun 'spare --help' for usage.\n", err)
	}
	return code
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var re runtimeError
	if errors.As(err, &re) {
		return 1
	}
	return 2
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
