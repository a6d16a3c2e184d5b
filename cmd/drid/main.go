package main

import (
	"os"

	"github.com/yilhu/DRID-modules/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
