package main

import (
	"os"

	"github.com/anuvgupta/media-library-source-worker-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
