// Package main is the entry point for sigmalens.
package main

import (
	"os"

	"sigmalens/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
