package main

import (
	"os"

	"github.com/psantana5/dispatch-proxy/cmd/proxyd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
