// Package main is the entry point for the s3s-conformance harness.
package main

import (
	"os"

	"github.com/LeonWang0735/s3s-conformance/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
