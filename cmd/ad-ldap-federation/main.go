package main

import (
	"os"
)

func main() {
	if err := newRootCommand(os.LookupEnv).Execute(); err != nil {
		os.Exit(1)
	}
}
