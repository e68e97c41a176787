package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/earshot/cli/render"
	"github.com/justapithecus/earshot/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version     string `json:"version"`
	WireVersion uint32 `json:"wire_version"`
	Commit      string `json:"commit"`
}

// VersionCommand returns the version command.
// It reports the agent version and the framed wire protocol version.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		return r.Render(VersionResponse{
			Version:     types.Version,
			WireVersion: types.WireVersion,
			Commit:      commit,
		})
	}
}
