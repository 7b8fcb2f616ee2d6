// Package main provides the entry point for the podrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/podrag/cmd/podrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
