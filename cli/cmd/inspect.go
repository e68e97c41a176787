package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/earshot/cli/render"
	"github.com/justapithecus/earshot/wav"
)

// InspectCommand returns the inspect command.
// Inspect decodes a WAV header and compares it with the data on disk.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a recorded WAV file",
		ArgsUsage: "<path>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit 1 if the declared and actual data sizes differ",
			},
		),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("path required", exitInvalidInput)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	info, err := wav.Inspect(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("inspect %s: %v", path, err), exitFailure)
	}
	if err := r.Render(info); err != nil {
		return err
	}

	if c.Bool("strict") && !info.Consistent {
		return cli.Exit(fmt.Sprintf("header declares %d data bytes, file has %d", info.DeclaredBytes, info.ActualBytes), exitFailure)
	}
	return nil
}
