package main

import (
	"os"

	"github.com/resspec/resspec/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
