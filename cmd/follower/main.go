package main

import (
	"os"

	"follower/cmd/follower/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
