// Package main is the entry point for the aipl CLI.
package main

import (
	"os"

	"github.com/AnshuML/Aipl/cmd/aipl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
