// Command anncli builds, inspects and queries HNSW snapshots offline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
)

var commit = "dev"

const usage = `anncli - offline HNSW index tool

Usage:
  anncli <command> [flags]

Commands:
  build    build an index from JSON-lines vectors and save it
  query    load a saved index and print the nearest neighbors
  info     print the shape of a saved index
  version  print the version

Run 'anncli <command> -h' for the flags of a command.
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "anncli: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	switch args[0] {
	case "build":
		return runBuild(args[1:], stdout, stderr)
	case "query":
		return runQuery(args[1:], stdout, stderr)
	case "info":
		return runInfo(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "anncli %s (commit: %s)\n", api.Version, commit)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
