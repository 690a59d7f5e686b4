package main

import (
	"os"

	"github.com/lguimbarda/reactive-flow/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
