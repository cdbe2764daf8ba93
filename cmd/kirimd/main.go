package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "kirimd",
		Usage:   "Real-time chat delivery server with moderation gating",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"KIRIM_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			configCommand(),
		},
		// Running without a subcommand starts the server.
		Action: runServe,
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
