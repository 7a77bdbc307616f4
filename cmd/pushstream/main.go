package main

import (
	"context"
	"fmt"
	"os"

	"pushstream/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
