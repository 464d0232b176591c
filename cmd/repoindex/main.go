// Package main provides the entry point for the repoindex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/repoindex/cmd/repoindex/cmd"
	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, rerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
