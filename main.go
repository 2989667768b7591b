// Package main is the entry point for the chfs application
package main

import (
	"github.com/ethpandaops/chfs/cmd"
)

func main() {
	cmd.Execute()
}
