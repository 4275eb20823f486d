package main

import (
	"github.com/alecthomas/kong"
	"github.com/mudler/genstudio/core/cli"
	"github.com/mudler/genstudio/internal"
	"github.com/mudler/xlog"
)

const description = `  genstudio is a schema-driven image and video generation studio backed by Replicate.

For a list of all available models run genstudio models list

Version: ${version}
`

func main() {
	// info until the flags say otherwise
	xlog.SetLogger(xlog.NewLogger(xlog.LogLevel("info"), "text"))
	cli.LoadEnvFiles(cli.EnvFiles()...)

	ctx := kong.Parse(&cli.CLI,
		kong.Name("genstudio"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{
			"basepath": kong.ExpandPath("."),
			"version":  internal.PrintableVersion(),
		},
	)
	xlog.SetLogger(cli.CLI.Logger())

	if err := ctx.Run(&cli.CLI.Context); err != nil {
		xlog.Fatal("genstudio exited with an error", "error", err)
	}
}
