// Command btdt is the CI-pipeline artifact cache orchestrator (spec.md
// §4.6): hash/restore/store/clean, dispatched against a local directory
// or a remote cache server.
package main

import (
	"os"

	"github.com/btdt-ci/btdt/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
