package main

import (
	"os"

	"github.com/battycoda/battycoda/cmd"
	"github.com/battycoda/battycoda/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
