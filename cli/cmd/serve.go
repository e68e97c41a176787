package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/earshot/adapter"
	"github.com/justapithecus/earshot/cli/config"
	"github.com/justapithecus/earshot/iox"
	"github.com/justapithecus/earshot/lode"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/receiver"
	"github.com/justapithecus/earshot/types"
)

const (
	shutdownTimeout = 10 * time.Second
	publishTimeout  = 10 * time.Second
)

// ServeCommand returns the serve command: the upload endpoint.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept blockwise uploads over HTTP and framed TCP and persist them",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.StringFlag{Name: "http-addr", Usage: "HTTP listen address (empty disables)"},
			&cli.StringFlag{Name: "framed-addr", Usage: "Framed TCP listen address (empty disables)"},
			&cli.StringFlag{Name: "store", Usage: "Object store: fs, s3, memory"},
			&cli.StringFlag{Name: "store-path", Usage: "fs: directory, s3: bucket/prefix"},
			&cli.Int64Flag{Name: "max-object-size", Usage: "Largest accepted object in bytes"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadServeConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	rc := cfg.Receiver

	logger := newLogger(c, cfg, nil).Named("serve")
	defer iox.DiscardErr(logger.Sync)
	collector := metrics.NewCollector("", "", "receiver", rc.Store)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, rc, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("store: %v", err), exitInvalidInput)
	}

	pub, err := buildAdapter(cfg.Adapter, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitInvalidInput)
	}
	notifier := &storedNotifier{adapter: pub, logger: logger}
	defer notifier.close()

	recv, err := receiver.New(receiver.Config{
		Store:         store,
		MaxObjectSize: rc.MaxObjectSize,
		Logger:        logger,
		Collector:     collector,
		OnStored:      notifier.notify,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	logger.Sugar().Infof("receiver ready: store=%s max_object_size=%d", rc.Store, rc.MaxObjectSize)
	if err := serve(ctx, recv, rc, logger); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	snap := collector.Snapshot()
	logger.Info("receiver stopped", map[string]any{
		"blocks_accepted": snap.BlocksAccepted,
		"blocks_rejected": snap.BlocksRejected,
		"objects_written": snap.LodeWriteSuccess,
	})
	return nil
}

// loadServeConfig merges the config file, serve flags and defaults.
func loadServeConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	overrideString(c, "log-level", &cfg.LogLevel)
	overrideString(c, "http-addr", &cfg.Receiver.HTTPAddr)
	overrideString(c, "framed-addr", &cfg.Receiver.FramedAddr)
	overrideString(c, "store", &cfg.Receiver.Store)
	if c.IsSet("store-path") {
		if cfg.Receiver.Store == "s3" {
			bucket, prefix := lode.ParseS3Path(c.String("store-path"))
			cfg.Receiver.S3.Bucket, cfg.Receiver.S3.Prefix = bucket, prefix
		} else {
			cfg.Receiver.Path = c.String("store-path")
		}
	}
	if c.IsSet("max-object-size") {
		cfg.Receiver.MaxObjectSize = c.Int64("max-object-size")
	}
	cfg.ApplyDefaults()
	if err := cfg.ValidateReceiver(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// serve opens the configured listeners and runs the front ends.
func serve(ctx context.Context, recv *receiver.Receiver, rc config.ReceiverConfig, logger *log.Logger) error {
	var httpLn, framedLn net.Listener
	var err error
	if rc.HTTPAddr != "" {
		if httpLn, err = net.Listen("tcp", rc.HTTPAddr); err != nil {
			return fmt.Errorf("listen http: %w", err)
		}
	}
	if rc.FramedAddr != "" {
		if framedLn, err = net.Listen("tcp", rc.FramedAddr); err != nil {
			if httpLn != nil {
				iox.DiscardClose(httpLn)
			}
			return fmt.Errorf("listen framed: %w", err)
		}
	}
	return serveListeners(ctx, recv, httpLn, framedLn, rc.IdleTimeout.Duration, logger)
}

// serveListeners runs the HTTP and framed front ends on the given
// listeners (either may be nil) until ctx is cancelled or one fails.
func serveListeners(ctx context.Context, recv *receiver.Receiver, httpLn, framedLn net.Listener, idle time.Duration, logger *log.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if httpLn != nil {
		srv := &http.Server{Handler: recv.Handler(), ReadHeaderTimeout: 10 * time.Second}
		logger.Info("http receiver listening", map[string]any{"addr": httpLn.Addr().String()})
		g.Go(func() error {
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if framedLn != nil {
		fs := receiver.NewFramedServer(recv, idle)
		logger.Info("framed receiver listening", map[string]any{"addr": framedLn.Addr().String()})
		g.Go(func() error {
			return fs.Serve(ctx, framedLn)
		})
	}

	return g.Wait()
}

// storedNotifier publishes an upload_completed event for every stored
// object. Publishing runs off the request path; close waits for in-flight
// publishes.
type storedNotifier struct {
	adapter adapter.Adapter
	logger  *log.Logger
	wg      sync.WaitGroup
}

func (n *storedNotifier) notify(s receiver.Stored) {
	n.logger.Info("object stored", map[string]any{
		"path":   s.Path,
		"device": s.DeviceID,
		"bytes":  s.Bytes,
		"blocks": s.Blocks,
	})
	if n.adapter == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		meta := &types.CycleMeta{DeviceID: s.DeviceID}
		event := adapter.NewUploadCompletedEvent(meta, types.OutcomeSuccess, s.Resource, int64(s.Blocks), s.Bytes, 0, time.Now())
		event.ObjectPath = s.Path
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.adapter.Publish(ctx, event); err != nil {
			n.logger.Warn("failed to publish completion event", map[string]any{"path": s.Path, "error": err.Error()})
		}
	}()
}

func (n *storedNotifier) close() {
	n.wg.Wait()
	if n.adapter != nil {
		iox.DiscardClose(n.adapter)
	}
}
