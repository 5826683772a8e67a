package main

import (
	"os"

	"github.com/shelffs/shelf/cmd/shelfd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
