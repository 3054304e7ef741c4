// shredctl runs and controls an embedded real-time audio VM.
//
// Subcommands:
//
//	serve   run a VM with its audio thread and a control server
//	render  run files offline for a number of frames and print the result
//	exec    send one command line to a running server
//	status  show a running server's state and shreds
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"
	"github.com/tliron/commonlog/simple"

	"github.com/chazu/shredctl/config"
)

// usageError is reported with exit status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{fmt.Sprintf(format, args...)}
}

type subcommand struct {
	name    string
	summary string
	run     func(args []string) error
}

var subcommands = []subcommand{
	{"serve", "run a VM and a control server until interrupted", runServe},
	{"render", "spork files offline, advance the VM and print shreds", runRender},
	{"exec", "send one command to a running server", runExec},
	{"status", "show a running server's state and shreds", runStatus},
}

func main() {
	code := 0
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shredctl: %v\n", err)
		code = 1
		var usage usageError
		if errors.As(err, &usage) {
			code = 2
		}
	}
	atexit.Exit(code)
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	for _, sc := range subcommands {
		if sc.name == args[0] {
			return sc.run(args[1:])
		}
	}
	printUsage()
	return usagef("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: shredctl <command> [flags] [args...]\n\nCommands:\n")
	for _, sc := range subcommands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", sc.name, sc.summary)
	}
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  shredctl serve drums.ck bass.ck      # play two files, serve on 127.0.0.1:7800\n")
	fmt.Fprintf(os.Stderr, "  shredctl exec '+ lead.ck'            # spork a file on the running server\n")
	fmt.Fprintf(os.Stderr, "  shredctl exec 'tempo::128'           # set a global\n")
	fmt.Fprintf(os.Stderr, "  shredctl render -n 44100 song.ck     # run one second offline\n")
	fmt.Fprintf(os.Stderr, "\nRun 'shredctl <command> --help' for command flags.\n")
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	verbosity  int
	logFile    string
}

func newFlagSet(name string) (*pflag.FlagSet, *commonFlags) {
	var cf commonFlags
	fs := pflag.NewFlagSet("shredctl "+name, pflag.ContinueOnError)
	fs.StringVarP(&cf.configPath, "config", "c", "", "configuration file (default: nearest "+config.FileName+")")
	fs.CountVarP(&cf.verbosity, "verbose", "v", "log more; repeat for debug output")
	fs.StringVar(&cf.logFile, "log", "", "write the log to this file instead of stderr")
	return fs, &cf
}

// parseFlags parses args, printing help on -h.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, usageError{err.Error()}
	}
	return true, nil
}

// load reads the configuration and sets up logging from it and the flags.
func (cf *commonFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cf.configPath != "" {
		cfg, err = config.LoadFile(cf.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if cf.verbosity > 0 {
		cfg.Log.Verbosity = cf.verbosity
	}
	if cf.logFile != "" {
		cfg.Log.File = cf.logFile
	}
	setupLogging(cfg.Log.Verbosity, cfg.LogFile())
	return cfg, nil
}

// setupLogging installs an unbuffered backend so nothing is lost when the
// process leaves through atexit.
func setupLogging(verbosity int, path *string) {
	backend := simple.NewBackend()
	backend.Buffered = false
	commonlog.SetBackend(backend)
	commonlog.Configure(verbosity, path)
}

// baseURL turns a listen address into a client URL.
func baseURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
