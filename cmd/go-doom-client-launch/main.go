// Package main provides the go-doom-client-launch CLI entry point.
//
// go-doom-client-launch is the harness's companion one-shot client
// launcher: it builds the bot-client command line and replaces itself with
// the client via exec. No supervision, no workspace, no cleanup.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/randomizedcoder/go-doom-server-harness/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-doom-client-launch
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-doom-client-launch %s\n", version)
			return 0
		}
	}

	cfg := process.DefaultClientConfig()

	var printCmd bool
	var extraArgs argList

	flag.StringVar(&cfg.BinaryPath, "client", cfg.BinaryPath, "Client binary path or name")
	flag.StringVar(&cfg.IWAD, "iwad", cfg.IWAD, "IWAD file the client loads")
	flag.StringVar(&cfg.ConnectAddr, "connect", "", "Server address to connect to (host:port)")
	flag.StringVar(&cfg.Window, "geometry", cfg.Window, "Window geometry (e.g. 800x600), empty for fullscreen")
	flag.BoolVar(&cfg.Audio, "audio", false, "Enable client audio")
	flag.Var(&extraArgs, "client-arg", "Extra argument passed to the client verbatim (repeatable)")
	flag.BoolVar(&printCmd, "print-cmd", false, "Print the client command and exit")
	flag.Parse()

	cfg.ExtraArgs = extraArgs

	if printCmd {
		fmt.Println(cfg.CommandString())
		return 0
	}

	// Exec only returns on failure.
	if err := cfg.Exec(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// argList collects repeatable free-form arguments.
type argList []string

func (a *argList) String() string {
	return fmt.Sprintf("%v", []string(*a))
}

func (a *argList) Set(value string) error {
	*a = append(*a, value)
	return nil
}
