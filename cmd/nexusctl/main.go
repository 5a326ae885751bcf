// Package main is the entry point for the nexusctl operator CLI.
package main

import (
	"os"

	"MNEE-Nexus/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
