// Package main is the entry point for psniff.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/psniff/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
