package main

import (
	"fmt"
	"os"

	"github.com/covswarm/cfd-driver/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCodeFor(err))
	}
}
