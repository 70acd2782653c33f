package main

import (
	"os"

	"faceprep/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
