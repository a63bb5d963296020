package main

import (
	"fmt"
	"os"

	"github.com/vendi-market/vendi/internal/tools/vendictl"
)

func main() {
	if err := vendictl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(vendictl.ExitCodeFailure)
	}
}
