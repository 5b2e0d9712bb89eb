package main

import (
	"context"
	"os"

	"github.com/dmitrymomot/bgjobs/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
