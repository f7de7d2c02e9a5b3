package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"libdb.so/beatglow"
	"libdb.so/beatglow/internal/pulse"
	"libdb.so/beatglow/internal/tui"
)

var (
	config    = "beatglow.toml"
	verbose   = false
	headless  = false
	autostart = false
	backend   = ""
	device    = ""
	httpAddr  = ""
	logFile   = ""
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.BoolVar(&headless, "headless", headless, "run without the terminal UI")
	pflag.BoolVar(&autostart, "autostart", autostart, "start listening immediately")
	pflag.StringVar(&backend, "backend", backend, "override the capture backend")
	pflag.StringVar(&device, "device", device, "override the capture device")
	pflag.StringVar(&httpAddr, "http", httpAddr, "serve the status API on this address")
	pflag.StringVar(&logFile, "log-file", logFile, "write logs to this file")
}

func main() {
	pflag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logOut, err := openLog()
	if err != nil {
		return err
	}
	defer logOut.Close()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := readConfig()
	if err != nil {
		return err
	}

	if backend != "" {
		cfg.Capture.Backend = backend
	}
	if device != "" {
		cfg.Capture.Device = device
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	d, err := beatglow.NewDaemon(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if headless {
		return runHeadless(ctx, d)
	}
	return runTUI(ctx, cancel, d)
}

func runHeadless(ctx context.Context, d *beatglow.Daemon) error {
	if autostart {
		d.Start()
	} else {
		slog.Info("waiting for a start request on the status API")
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon failed: %w", err)
	}

	return nil
}

func runTUI(ctx context.Context, cancel context.CancelFunc, d *beatglow.Daemon) error {
	prog := tea.NewProgram(tui.NewModel(d),
		tea.WithAltScreen(),
		tea.WithContext(ctx))

	d.Subscribe(func(s pulse.Snapshot) {
		prog.Send(tui.SnapshotMsg(s))
	})

	if autostart {
		d.Start()
	}

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("daemon failed: %w", err)
		}
		return nil
	})
	errg.Go(func() error {
		// Quitting the TUI stops the daemon.
		defer cancel()

		_, err := prog.Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("tui: %w", err)
		}
		return nil
	})

	return errg.Wait()
}

// openLog returns the log destination. The TUI owns the terminal, so logs
// are dropped there unless a log file is given.
func openLog() (io.WriteCloser, error) {
	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, nil
	case headless:
		return nopCloser{os.Stderr}, nil
	default:
		return nopCloser{io.Discard}, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func readConfig() (*beatglow.Config, error) {
	f, err := os.Open(config)
	if err != nil {
		// The default configuration file is optional.
		if errors.Is(err, fs.ErrNotExist) && !pflag.CommandLine.Changed("config") {
			return beatglow.DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return beatglow.ParseConfig(f)
}
