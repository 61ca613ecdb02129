package main

import (
	"fmt"
	"os"

	"filevault/internal/shared/config"
)

func main() {
	cfg := config.Load()
	if err := newRootCmd(&cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
