// Package main implements the genostore command line: archive transformed
// variant files, load them into or delete them from a study index, and
// export the index in coordinate shards.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Error("genostore: command failed")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "genostore",
		Usage:   "genomic variant archive and study index",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to configuration file (YAML or JSON)",
				EnvVars: []string{"GENOSTORE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			studyCommand(),
			archiveCommand(),
			loadCommand(),
			deleteCommand(),
			exportCommand(),
			variantCommand(),
			genotypesCommand(),
		},
	}
}
