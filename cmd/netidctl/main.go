package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/netid/cmd/netidctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "netidctl: %v\n", err)
		os.Exit(1)
	}
}
