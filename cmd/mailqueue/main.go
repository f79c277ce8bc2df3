package main

import (
	"fmt"
	"os"

	"github.com/telekom/mailqueue/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mailqueue:", err)
		os.Exit(1)
	}
}
