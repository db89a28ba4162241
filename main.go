// Package main contains the entrypoint for running a meetmesh relay or client.
package main

import (
	"fmt"
	"os"

	"github.com/cryptagon/meetmesh/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
