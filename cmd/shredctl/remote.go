package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chazu/shredctl/bridge"
	"github.com/chazu/shredctl/command"
	"github.com/chazu/shredctl/engine"
	"github.com/chazu/shredctl/server"
)

func newRemote(args []string, name, usage string) (*server.Client, []string, time.Duration, bool, error) {
	fs, cf := newFlagSet(name)
	addr := fs.String("addr", "", "control server address (default from config)")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if ok, err := parseFlags(fs, args); !ok {
		return nil, nil, 0, false, err
	}
	cfg, err := cf.load()
	if err != nil {
		return nil, nil, 0, false, err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	client := server.NewClient(http.DefaultClient, baseURL(cfg.Server.Addr))
	return client, fs.Args(), *timeout, true, nil
}

func runExec(args []string) error {
	client, rest, timeout, ok, err := newRemote(args, "exec",
		"Usage: shredctl exec [flags] <command>\n\nSends one command line to a running server. Anything that is not a command is sporked as code.\n\nFlags:\n")
	if !ok {
		return err
	}
	if len(rest) == 0 {
		return usagef("exec needs a command")
	}

	line := strings.Join(rest, " ")
	cmd, err := command.Parse(line)
	if err != nil {
		return err
	}
	if cmd == nil {
		if strings.TrimSpace(line) == "" {
			return usagef("exec needs a command")
		}
		cmd = &bridge.Command{Op: bridge.OpSpork, Code: line}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res, err := client.Exec(ctx, *cmd)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, *cmd, res)
}

func runStatus(args []string) error {
	client, _, timeout, ok, err := newRemote(args, "status",
		"Usage: shredctl status [flags]\n\nShows a running server's state and shreds.\n\nFlags:\n")
	if !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	if st.State != bridge.Initialized.String() && st.State != bridge.Running.String() {
		return nil
	}
	shreds, err := client.Shreds(ctx)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(bridge.FormatShredTable(shreds.Shreds, shreds.Now, shreds.SampleRate, false))
	return nil
}

func printStatus(w io.Writer, st bridge.Status) {
	fmt.Fprintf(w, "instance:  %s\n", st.Instance)
	fmt.Fprintf(w, "state:     %s\n", st.State)
	fmt.Fprintf(w, "audio:     %t\n", st.Audio)
	fmt.Fprintf(w, "device:    %d Hz, %d in, %d out, %d frames\n",
		st.Params.SampleRate, st.Params.InputChannels, st.Params.OutputChannels, st.Params.BufferFrames)
	fmt.Fprintf(w, "now:       %d samples (%s)\n", st.Now,
		bridge.FormatElapsed(bridge.SamplesToDuration(st.Now, st.Params.SampleRate)))
	fmt.Fprintf(w, "shreds:    %d\n", st.Shreds)
	fmt.Fprintf(w, "callbacks: %d\n", st.Callbacks)
}

// printResult renders a command result for a terminal. A fault becomes the
// returned error.
func printResult(w io.Writer, cmd bridge.Command, res bridge.Result) error {
	if res.Err != nil {
		return res.Err
	}
	if res.Diagnostic != "" {
		fmt.Fprintln(os.Stderr, res.Diagnostic)
	}
	switch {
	case res.Status != nil:
		printStatus(w, *res.Status)
	case res.List != nil:
		fmt.Fprintf(w, "ready:   %s\n", joinIDs(res.List.Ready))
		fmt.Fprintf(w, "blocked: %s\n", joinIDs(res.List.Blocked))
	case res.Shred != nil:
		fmt.Fprintf(w, "shred %d %s running=%t\n", res.Shred.ID, res.Shred.Name, res.Shred.Running)
	case len(res.Shreds) > 0:
		for _, s := range res.Shreds {
			fmt.Fprintf(w, "sporked shred %d (%s)\n", s.ID, s.Name)
		}
	case res.Value != nil:
		fmt.Fprintln(w, res.Value)
	case res.Globals != nil:
		for _, g := range res.Globals {
			fmt.Fprintf(w, "%-24s %s\n", g.Name, g.Kind)
		}
	case cmd.Op == bridge.OpNow || cmd.Op == bridge.OpAdvance:
		fmt.Fprintf(w, "now: %d samples\n", res.Now)
	case cmd.Op == bridge.OpClear || cmd.Op == bridge.OpRemoveAll:
		fmt.Fprintf(w, "removed %d shreds\n", res.Count)
	case res.Diagnostic == "":
		fmt.Fprintln(w, "ok")
	}
	return nil
}

func joinIDs(ids []engine.ShredID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, " ")
}
