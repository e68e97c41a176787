package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/earshot/cli/render"
	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/storage"
	"github.com/justapithecus/earshot/types"
)

// RecordCommand returns the record command: capture only, no network.
func RecordCommand() *cli.Command {
	return &cli.Command{
		Name:   "record",
		Usage:  "Record one WAV file to the storage volume without uploading",
		Flags:  agentFlags(),
		Action: recordAction,
	}
}

func recordAction(c *cli.Context) error {
	cfg, err := loadAgentConfig(c)
	if err != nil {
		return err
	}

	meta := types.NewCycleMeta(cfg.DeviceID)
	logger := newLogger(c, cfg, meta)
	defer iox.DiscardErr(logger.Sync)
	collector := metrics.NewCollector(meta.DeviceID, meta.CycleID, "", "")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	volume := storage.NewLocalVolume(cfg.Storage.Root, cfg.Storage.Create)
	rec, err := buildRecorder(cfg, volume, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("capture: %v", err), exitInvalidInput)
	}

	recording, err := rec.Record(ctx, cfg.CaptureContext())
	if volume.Mounted() {
		iox.DiscardErr(volume.Unmount)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("record failed: %v", err), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(recording)
}
