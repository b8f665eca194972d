package main // import "github.com/robotcode-ls/robotcode-go"

import (
	"fmt"
	"os"

	"github.com/robotcode-ls/robotcode-go/cmd"
)

func main() {
	// Intercepted before any flag/command parsing: a worker re-exec carries
	// its request on stdin, not argv.
	if cmd.RunWorkerIfRequested() {
		return
	}

	if err := cmd.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
