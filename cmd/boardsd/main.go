package main

import (
	"os"

	"xdao.co/boards/cmd/boardsd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
