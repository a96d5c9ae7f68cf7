package main

import (
	"os"

	"cinetrack/internal/cli"
)

func main() {
	// go-flags has already printed the error.
	if err := cli.Run(); err != nil {
		os.Exit(1)
	}
}
