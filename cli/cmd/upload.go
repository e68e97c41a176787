package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/earshot/blocksource"
	"github.com/justapithecus/earshot/cli/render"
	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/runtime"
	"github.com/justapithecus/earshot/session"
	"github.com/justapithecus/earshot/types"
)

// UploadResponse is the response for the upload command.
type UploadResponse struct {
	DeviceID   string `json:"device_id"`
	Transport  string `json:"transport"`
	Resource   string `json:"resource"`
	Blocks     int64  `json:"blocks"`
	Bytes      int64  `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// UploadCommand returns the upload command: send an existing file blockwise.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload an existing file blockwise over the configured transport",
		ArgsUsage: "<path>",
		Flags: append(agentFlags(),
			&cli.StringFlag{
				Name:  "resource",
				Usage: "Resource name on the endpoint (default: base name of <path>)",
			},
			&cli.StringFlag{
				Name:  "content-type",
				Usage: "Content type sent with the upload",
				Value: runtime.DefaultContentType,
			},
		),
		Action: uploadAction,
	}
}

func uploadAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("path required", exitInvalidInput)
	}
	path := c.Args().First()
	resource := c.String("resource")
	if resource == "" {
		resource = filepath.Base(path)
	}
	if err := types.ValidateFileName(resource); err != nil {
		return cli.Exit(fmt.Sprintf("invalid resource: %v", err), exitInvalidInput)
	}

	cfg, err := loadAgentConfig(c)
	if err != nil {
		return err
	}

	meta := types.NewCycleMeta(cfg.DeviceID)
	logger := newLogger(c, cfg, meta)
	defer iox.DiscardErr(logger.Sync)
	collector := metrics.NewCollector(meta.DeviceID, meta.CycleID, cfg.Transport.Type, "")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, _, err := blocksource.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot upload %s: %v", path, err), exitInvalidInput)
	}
	defer iox.DiscardClose(src)

	sender, closer, err := buildSender(ctx, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("transport: %v", err), exitInvalidInput)
	}
	defer iox.DiscardClose(closer)

	client, err := buildSession(cfg, sender, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("session: %v", err), exitInvalidInput)
	}
	defer iox.DiscardClose(client)

	connected := session.NewSignal()
	client.OnEvent(connected.OnConnected())
	if err := client.Connect(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("connect: %v", err), exitFailure)
	}

	waitCtx := ctx
	if d := cfg.Session.ConnectTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, d, runtime.ErrConnectTimeout)
		defer cancel()
	}
	if err := connected.Wait(waitCtx); err != nil {
		return cli.Exit(fmt.Sprintf("not connected: %v", context.Cause(waitCtx)), exitFailure)
	}

	result, err := client.UploadBlockwise(ctx, resource, c.String("content-type"), src)
	if err != nil {
		return cli.Exit(fmt.Sprintf("upload failed after %d blocks: %v", result.Blocks, err), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(UploadResponse{
		DeviceID:   cfg.DeviceID,
		Transport:  cfg.Transport.Type,
		Resource:   result.Resource,
		Blocks:     result.Blocks,
		Bytes:      result.Bytes,
		DurationMs: result.Duration.Milliseconds(),
	})
}
