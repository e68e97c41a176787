package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/earshot/cli/config"
	"github.com/justapithecus/earshot/cli/render"
	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/runtime"
	"github.com/justapithecus/earshot/session"
	"github.com/justapithecus/earshot/storage"
	"github.com/justapithecus/earshot/types"
)

// RunCommand returns the run command: one power-on cycle of the agent.
// Exit codes:
//   - 0: the recording was uploaded
//   - 1: the cycle reached idle without a successful upload
//   - 3: invalid configuration
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Wait for connectivity, record, upload, then idle with a heartbeat",
		Flags: append(agentFlags(),
			&cli.DurationFlag{
				Name:  "heartbeat-interval",
				Usage: "Idle heartbeat period",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Exit after the cycle instead of idling until interrupted",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON cycle report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadAgentConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("heartbeat-interval") {
		cfg.HeartbeatInterval = config.Duration{Duration: c.Duration("heartbeat-interval")}
	}

	meta := types.NewCycleMeta(cfg.DeviceID)
	logger := newLogger(c, cfg, meta)
	defer iox.DiscardErr(logger.Sync)
	collector := metrics.NewCollector(meta.DeviceID, meta.CycleID, cfg.Transport.Type, "")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, cleanup, err := buildController(ctx, cfg, meta, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	defer cleanup()

	var result *runtime.CycleResult
	if c.Bool("once") {
		result = ctrl.RunCycle(ctx)
	} else {
		result, _ = ctrl.Run(ctx)
	}

	exitCode := runtime.ExitCode(result.Outcome)
	report := runtime.BuildCycleReport(result, collector.Snapshot(), exitCode)
	if path := c.String("report"); path != "" {
		if err := runtime.WriteCycleReport(report, path); err != nil {
			logger.Warn("failed to write cycle report", map[string]any{"path": path, "error": err.Error()})
		}
	}

	if !c.Bool("quiet") {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if err := r.Render(report); err != nil {
			return err
		}
	}

	return cli.Exit("", exitCode)
}

// buildController wires the whole agent. The returned cleanup closes the
// session, the transport and the adapter.
func buildController(ctx context.Context, cfg *config.Config, meta *types.CycleMeta, logger *log.Logger, collector *metrics.Collector) (*runtime.Controller, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sender, senderCloser, err := buildSender(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: %w", err)
	}
	closers = append(closers, func() { iox.DiscardClose(senderCloser) })

	client, err := buildSession(cfg, sender, logger, collector)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("session: %w", err)
	}
	closers = append(closers, func() { iox.DiscardClose(client) })

	connected := session.NewSignal()
	client.OnEvent(connected.OnConnected())

	volume := storage.NewLocalVolume(cfg.Storage.Root, cfg.Storage.Create)
	rec, err := buildRecorder(cfg, volume, logger, collector)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("capture: %w", err)
	}

	pub, err := buildAdapter(cfg.Adapter, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("adapter: %w", err)
	}
	if pub != nil {
		closers = append(closers, func() { iox.DiscardClose(pub) })
	}

	ctrl, err := runtime.NewController(runtime.Config{
		Meta:              meta,
		Credentials:       buildCredentials(cfg),
		CredentialPoll:    cfg.Credentials.PollInterval.Duration,
		Session:           client,
		Connected:         connected,
		ConnectTimeout:    cfg.Session.ConnectTimeout.Duration,
		Capturer:          rec,
		Volume:            volume,
		Capture:           cfg.CaptureContext(),
		Adapter:           pub,
		HeartbeatInterval: cfg.HeartbeatInterval.Duration,
		Logger:            logger,
		Collector:         collector,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return ctrl, cleanup, nil
}
