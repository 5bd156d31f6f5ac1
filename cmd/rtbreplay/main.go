// Package main is the entry point for the RTB log replayer
package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
