// Package main is the entry point for the nightscout-loop command
package main

import (
	"os"

	"github.com/mrcode/nightscout-loop/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
