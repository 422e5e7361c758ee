// Package main provides the entry point for the veldt CLI.
package main

import (
	"os"

	"github.com/veldt-db/veldt/cmd/veldt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
