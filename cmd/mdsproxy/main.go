package main

import (
	"os"

	"github.com/iderikon/mediastorage-proxy/cmd/mdsproxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
