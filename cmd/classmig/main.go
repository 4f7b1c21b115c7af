package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/gnolang/classmig/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var exit *cmd.ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
