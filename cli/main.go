package main

import (
	"os"

	"github.com/helm-app/landregistry/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
