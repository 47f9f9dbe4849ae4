package main

import (
	"os"

	"tunesync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
