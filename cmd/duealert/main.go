package main

import (
	"fmt"
	"os"

	app "github.com/valter-silva-au/duealert/internal"
	"github.com/valter-silva-au/duealert/internal/cli"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	basePath := app.ResolveBasePath()

	a, err := app.NewApp(basePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing duealert: %v\n", err)
		os.Exit(1)
	}

	err = cli.Execute()
	if cerr := a.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
