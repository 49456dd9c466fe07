// Command turbo is the CLI entrypoint: parse args, build the workspace and
// action graphs, drive the pipeline, report the result.
package main

import (
	"os"

	"github.com/riftrun/rift/internal/cmd"
)

// turboVersion is stamped at link time via -ldflags "-X main.turboVersion=...".
var turboVersion = "dev"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], turboVersion))
}
