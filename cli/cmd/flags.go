// Package cmd provides CLI commands for the earshot binary.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/earshot/cli/config"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/types"
)

// Exit codes shared by all commands.
const (
	exitFailure      = 1
	exitInvalidInput = 3
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at an earshot.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to earshot.yaml",
		EnvVars: []string{"EARSHOT_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for commands that only render output.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// agentFlags are the config overrides shared by run, record and upload.
func agentFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		FormatFlag,
		NoColorFlag,
		&cli.StringFlag{Name: "device-id", Usage: "Device identifier", EnvVars: []string{"EARSHOT_DEVICE_ID"}},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
		&cli.StringFlag{Name: "transport", Usage: "Upload transport: http, framed, s3"},
		&cli.StringFlag{Name: "endpoint", Usage: "Upload endpoint (http URL or framed host:port)"},
		&cli.IntFlag{Name: "block-size", Usage: "Upload block size in bytes"},
		&cli.StringFlag{Name: "device", Usage: "Capture device: tone, replay, portaudio"},
		&cli.StringFlag{Name: "replay-path", Usage: "Raw PCM file for the replay device"},
		&cli.UintFlag{Name: "duration", Usage: "Recording duration in seconds"},
		&cli.StringFlag{Name: "file-name", Usage: "Recording file name"},
		&cli.StringFlag{Name: "storage-root", Usage: "Directory backing the recording volume"},
		&cli.DurationFlag{Name: "connect-timeout", Usage: "Give up waiting for a connection after this long (0 waits forever)"},
	}
}

// loadConfig reads --config if given, applies flag overrides, then fills
// defaults. Flags always win over the file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrideString(c, "device-id", &cfg.DeviceID)
	overrideString(c, "log-level", &cfg.LogLevel)
	overrideString(c, "transport", &cfg.Transport.Type)
	overrideString(c, "endpoint", &cfg.Transport.Endpoint)
	overrideString(c, "device", &cfg.Capture.Device)
	overrideString(c, "replay-path", &cfg.Capture.Replay.Path)
	overrideString(c, "file-name", &cfg.Capture.FileName)
	overrideString(c, "storage-root", &cfg.Storage.Root)
	if c.IsSet("block-size") {
		cfg.Transport.BlockSize = c.Int("block-size")
	}
	if c.IsSet("duration") {
		cfg.Capture.Duration = uint32(c.Uint("duration"))
	}
	if c.IsSet("connect-timeout") {
		cfg.Session.ConnectTimeout = config.Duration{Duration: c.Duration("connect-timeout")}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func overrideString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

// loadAgentConfig loads and validates the agent config. Errors are
// returned as cli.Exit with exitInvalidInput.
func loadAgentConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitInvalidInput)
	}
	return cfg, nil
}

// newLogger builds the JSON logger for one command invocation. Logs go to
// stderr so rendered output on stdout stays machine-readable.
func newLogger(c *cli.Context, cfg *config.Config, meta *types.CycleMeta) *log.Logger {
	var w io.Writer = os.Stderr
	if c.App != nil && c.App.ErrWriter != nil {
		w = c.App.ErrWriter
	}
	return log.NewLoggerWithWriter(meta, w, log.ParseLevel(cfg.LogLevel))
}
