// Package main is the entry point for the nis application
package main

import (
	"github.com/ethpandaops/nis/cmd"

	_ "github.com/lib/pq"
)

func main() {
	cmd.Execute()
}
