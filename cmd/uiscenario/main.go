// Command uiscenario runs browser-driven UI scenarios against a web
// application and reports whether each ended the way it was expected to.
//
// Usage:
//
//	uiscenario run [flags] [files or directories...]
//	uiscenario list [flags] [files or directories...]
//	uiscenario history [flags] <scenario id>
//	uiscenario mcp [flags] [files or directories...]
//
// With no files, the built-in suite is used. run exits 0 when every scenario
// matched its expected outcome, 1 otherwise and 2 on usage or configuration
// errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/uiscenario/internal/config"
	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/obs"
)

const (
	exitOK       = 0
	exitMismatch = 1
	exitUsage    = 2
)

func main() {
	obs.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: uiscenario <run|list|history|mcp> [flags] [args...]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  run      run scenarios and report their outcomes")
	fmt.Fprintln(w, "  list     print the loaded scenarios")
	fmt.Fprintln(w, "  history  print recent runs of one scenario")
	fmt.Fprintln(w, "  mcp      serve list_scenarios and run_scenario over MCP on stdio")
}

// run dispatches a subcommand and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet("uiscenario "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)

	var handler func(context.Context, *config.Config, []string, io.Writer, io.Writer) int
	switch cmd {
	case "run":
		handler = runCommand
	case "list":
		handler = listCommand
	case "history":
		handler = historyCommand
	case "mcp":
		handler = mcpCommand
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return exitUsage
	}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	return handler(ctx, cfg, fs.Args(), stdout, stderr)
}

// failure prints err and maps it to an exit status.
func failure(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, "error:", err)
	if errs.CodeOf(err) == errs.InvalidArgument || config.IsValidationError(err) {
		return exitUsage
	}
	return errs.ExitStatus(errs.CodeOf(err))
}
