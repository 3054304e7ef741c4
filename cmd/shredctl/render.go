package main

import (
	"fmt"
	"os"

	"github.com/chazu/shredctl/bridge"
	"github.com/chazu/shredctl/engine"
)

func runRender(args []string) error {
	fs, cf := newFlagSet("render")
	frames := fs.IntP("frames", "n", 0, "frames to advance (default: one second)")
	code := fs.StringArrayP("eval", "e", nil, "spork inline code; may be repeated")
	globals := fs.BoolP("globals", "g", false, "print declared globals and their values")
	pipes := fs.Bool("pipes", false, "draw the shred table with ASCII separators")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: shredctl render [flags] [files...]\n\nSporks files and code into an offline VM, advances it and prints the live shreds.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if *frames < 0 {
		return usagef("--frames must not be negative")
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}

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
	for _, c := range *code {
		if _, err := coord.Shreds().Spork(c, "", 1); err != nil {
			return err
		}
	}

	params := coord.Params().Engine
	n := *frames
	if n == 0 {
		n = params.SampleRate
	}
	for n > 0 {
		step := min(n, params.BufferFrames)
		if _, err := coord.Advance(step); err != nil {
			return err
		}
		n -= step
	}

	shreds, err := coord.Shreds().Refresh()
	if err != nil {
		return err
	}
	now, err := coord.Now()
	if err != nil {
		return err
	}
	fmt.Println(bridge.FormatShredTable(shreds, now, params.SampleRate, *pipes))
	fmt.Printf("\nnow: %d samples (%s)\n", now, bridge.FormatElapsed(bridge.SamplesToDuration(now, params.SampleRate)))

	if *globals {
		if err := printGlobals(coord); err != nil {
			return err
		}
	}
	return coord.Stop()
}

func printGlobals(coord *bridge.Coordinator) error {
	list, err := coord.Globals().List()
	if err != nil {
		return err
	}
	fmt.Println()
	for _, g := range list {
		switch g.Kind {
		case engine.KindInt, engine.KindFloat, engine.KindString:
			v, err := coord.Globals().ReadNow(g.Name, g.Kind, 0)
			if err != nil {
				return err
			}
			fmt.Printf("%-24s %-8s %s\n", g.Name, g.Kind, v)
		default:
			fmt.Printf("%-24s %s\n", g.Name, g.Kind)
		}
	}
	return nil
}
