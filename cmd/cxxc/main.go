package main

import (
	"os"

	"github.com/cwbudde/go-cxx/cmd/cxxc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
