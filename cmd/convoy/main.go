package main

import (
	"os"

	"github.com/artpar/convoy/cmd/convoy/commands"
)

func main() {
	os.Exit(commands.Execute())
}
