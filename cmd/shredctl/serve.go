package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/shredctl/bridge"
	"github.com/chazu/shredctl/server"
)

// errRemoteShutdown ends serve when a client shuts the VM down.
var errRemoteShutdown = errors.New("vm shut down by client")

func runServe(args []string) error {
	fs, cf := newFlagSet("serve")
	addr := fs.String("addr", "", "control server address (default from config)")
	noAudio := fs.Bool("no-audio", false, "do not start the audio thread; advance only through commands")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: shredctl serve [flags] [files...]\n\nRuns a VM, sporks the given files and serves the control service until SIGINT or SIGTERM.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	log := commonlog.GetLogger("shredctl.serve")

	coord := bridge.New()
	coord.SetStdout(func(line string) { fmt.Fprintln(os.Stdout, line) })
	coord.SetStderr(func(line string) { fmt.Fprintln(os.Stderr, line) })
	if err := coord.Configure(cfg.Params()); err != nil {
		return err
	}
	if err := coord.Init(); err != nil {
		return err
	}
	defer coord.Stop()

	for _, path := range fs.Args() {
		if _, err := coord.Shreds().SporkFile(path, "", 1); err != nil {
			return err
		}
	}
	if !*noAudio {
		if err := coord.Start(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(coord)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		return watchCoordinator(gctx, coord)
	})

	err = g.Wait()
	if errors.Is(err, errRemoteShutdown) {
		log.Info("shut down by client")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("interrupted, stopping")
	return coord.Stop()
}

// watchCoordinator returns errRemoteShutdown once the coordinator stops
// for any reason other than ctx ending.
func watchCoordinator(ctx context.Context, coord *bridge.Coordinator) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if coord.State() == bridge.Stopped {
				return errRemoteShutdown
			}
		}
	}
}
