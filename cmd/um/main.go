package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ascrivener/um/pkg/config"
	"github.com/ascrivener/um/pkg/console"
	"github.com/ascrivener/um/pkg/logging"
	"github.com/ascrivener/um/pkg/platter"
	"github.com/ascrivener/um/pkg/scroll"
	"github.com/ascrivener/um/pkg/snapshot"
	"github.com/ascrivener/um/pkg/um"
)

const (
	exitHalt  = 1
	exitUsage = 2
)

func main() {
	flags := flag.NewFlagSet("um", flag.ExitOnError)
	os.Exit(run(flags, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(flags *flag.FlagSet, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	configPath := flags.String("config", "", "Path to a TOML configuration file")
	logLevel := flags.String("log-level", "", "Log level: debug, info, warn or error")
	logFile := flags.String("log-file", "", "Append JSON log records to this file")
	snapshotDir := flags.String("snapshot-dir", "", "Directory of the snapshot store")
	suspend := flags.String("suspend", "", "Save the machine under `NAME` when input runs out")
	resume := flags.String("resume", "", "Resume the machine saved under `NAME`")
	list := flags.Bool("list", false, "List saved snapshots and exit")
	serve := flags.Bool("serve", false, "Serve the scroll over QUIC instead of running it")
	listen := flags.String("listen", "", "Address to serve on (implies -serve)")
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: um [flags] SCROLL\n       um -list\n\nflags:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		return exitUsage
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *snapshotDir != "" {
		cfg.Snapshot.Dir = *snapshotDir
	}
	if *listen != "" {
		cfg.Console.Listen = *listen
		*serve = true
	}

	logger, closer, err := logging.New(stderr, logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Journal: cfg.Log.Journal,
	})
	if err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		return exitUsage
	}
	defer closer.Close()

	if *list {
		return listSnapshots(cfg.Snapshot.Dir, stdout, stderr)
	}

	if flags.NArg() != 1 {
		fmt.Fprintf(stderr, "um: expected exactly one scroll, got %d arguments\n", flags.NArg())
		flags.Usage()
		return exitUsage
	}
	path := flags.Arg(0)

	mem := um.NewMemory()
	defer mem.Close()

	program, err := readScroll(path, mem)
	if err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		flags.Usage()
		return exitUsage
	}
	defer mem.Platters.Release(program)
	hash := scroll.HashPlatters(program)
	logger.Info("loaded scroll", "path", path, "platters", len(program), "hash", hash.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *serve {
		return serveConsole(ctx, cfg.Console.Listen, program, logger, stderr)
	}

	m := &machine{
		logger:  logger,
		stderr:  stderr,
		hash:    hash,
		storeAt: cfg.Snapshot.Dir,
		suspend: *suspend,
		resume:  *resume,
	}
	return m.run(ctx, program, um.Config{
		Input:        stdin,
		Output:       stdout,
		Logger:       logger,
		Memory:       mem,
		SuspendOnEOF: *suspend != "",
	})
}

// readScroll loads the scroll at path into array 0 form.
func readScroll(path string, mem *um.Memory) ([]platter.Platter, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	program, err := scroll.Read(f, info.Size(), mem.Platters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return program, nil
}

type machine struct {
	logger  *slog.Logger
	stderr  io.Writer
	hash    scroll.Hash
	storeAt string
	suspend string
	resume  string
}

func (m *machine) run(ctx context.Context, program []platter.Platter, cfg um.Config) int {
	var store *snapshot.Store
	if m.suspend != "" || m.resume != "" {
		s, err := snapshot.Open(m.storeAt)
		if err != nil {
			fmt.Fprintf(m.stderr, "um: %v\n", err)
			return exitHalt
		}
		defer s.Close()
		store = s
	}

	e, err := m.start(store, program, cfg)
	if err != nil {
		fmt.Fprintf(m.stderr, "um: %v\n", err)
		return exitHalt
	}
	defer e.Close()

	err = e.Run(ctx)
	m.logger.Debug("machine stopped", "stats", e.Stats())

	var herr *um.HaltError
	switch {
	case err == nil:
		if m.resume != "" {
			if err := store.Delete(m.resume); err != nil {
				m.logger.Warn("failed to delete resumed snapshot", "name", m.resume, "error", err)
			}
		}
		return 0
	case errors.Is(err, um.ErrSuspended):
		if err := store.Save(m.suspend, m.hash, e.State()); err != nil {
			fmt.Fprintf(m.stderr, "um: saving snapshot: %v\n", err)
			return exitHalt
		}
		m.logger.Info("machine suspended", "name", m.suspend)
		return 0
	case errors.As(err, &herr):
		return exitHalt
	default:
		fmt.Fprintf(m.stderr, "um: %v\n", err)
		return exitHalt
	}
}

func (m *machine) start(store *snapshot.Store, program []platter.Platter, cfg um.Config) (*um.Engine, error) {
	if m.resume == "" {
		return um.New(program, cfg)
	}

	snap, err := store.Load(m.resume)
	if err != nil {
		return nil, err
	}
	if snap.ScrollHash != m.hash {
		return nil, fmt.Errorf("snapshot %q was taken from scroll %s, not %s", m.resume, snap.ScrollHash, m.hash)
	}
	m.logger.Info("resuming machine", "name", m.resume, "finger", snap.State.Finger, "created", snap.Created)
	return um.Restore(snap.State, cfg)
}

func listSnapshots(dir string, stdout, stderr io.Writer) int {
	store, err := snapshot.Open(dir)
	if err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		return exitHalt
	}
	defer store.Close()

	names, err := store.List()
	if err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		return exitHalt
	}
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return 0
}

func serveConsole(ctx context.Context, addr string, program []platter.Platter, logger *slog.Logger, stderr io.Writer) int {
	srv, err := console.Listen(addr, program, logger)
	if err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		return exitHalt
	}
	defer srv.Close()

	logger.Info("serving console", "addr", srv.Addr().String(), "fingerprint", srv.Fingerprint())
	if err := srv.Serve(ctx); err != nil {
		fmt.Fprintf(stderr, "um: %v\n", err)
		return exitHalt
	}
	return 0
}
