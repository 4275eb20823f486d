package cli

import (
	cliContext "github.com/mudler/genstudio/core/cli/context"
)

var CLI struct {
	cliContext.Context `embed:""`

	Run    RunCMD    `cmd:"" help:"Run the studio API, this is the default command if no other command is specified. Run 'genstudio run --help' for more information" default:"withargs"`
	Models ModelsCMD `cmd:"" help:"Inspect and validate model schemas"`
}
