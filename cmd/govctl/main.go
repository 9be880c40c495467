// Package main is the entry point for the govctl operator CLI.
package main

import (
	"os"

	"farm-access/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
