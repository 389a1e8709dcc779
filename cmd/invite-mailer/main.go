package main

import (
	"os"

	"github.com/telekom/invite-mailer/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.DefaultConfig()).Execute(); err != nil {
		os.Exit(1)
	}
}
