package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/justapithecus/earshot/adapter"
	"github.com/justapithecus/earshot/adapter/redis"
	"github.com/justapithecus/earshot/adapter/webhook"
	"github.com/justapithecus/earshot/capture"
	"github.com/justapithecus/earshot/capture/portaudio"
	"github.com/justapithecus/earshot/capture/replay"
	"github.com/justapithecus/earshot/capture/tone"
	"github.com/justapithecus/earshot/cli/config"
	"github.com/justapithecus/earshot/credentials"
	"github.com/justapithecus/earshot/lode"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/pipeline"
	"github.com/justapithecus/earshot/session"
	"github.com/justapithecus/earshot/storage"
	"github.com/justapithecus/earshot/transfer"
	"github.com/justapithecus/earshot/transfer/framed"
	"github.com/justapithecus/earshot/transfer/httpblock"
	"github.com/justapithecus/earshot/transfer/s3multipart"
)

// buildDevice selects the capture device named in the config.
func buildDevice(cfg *config.Config) (capture.Device, error) {
	switch cfg.Capture.Device {
	case config.DeviceTone:
		t := cfg.Capture.Tone
		paced := true
		if t.Paced != nil {
			paced = *t.Paced
		}
		gain := t.GainDB
		if gain == 0 {
			gain = tone.DefaultGainDB
		}
		return tone.New(tone.Config{
			Frequency: t.Frequency,
			Level:     t.Level,
			GainDB:    gain,
			Paced:     paced,
		}), nil
	case config.DeviceReplay:
		return replay.New(cfg.Capture.Replay.Path, cfg.Capture.Replay.Loop), nil
	case config.DevicePortAudio:
		return portaudio.New(portaudio.DefaultFramesPerBuffer), nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", cfg.Capture.Device)
	}
}

// buildRecorder wires a capture pipeline onto the configured volume.
func buildRecorder(cfg *config.Config, volume storage.Volume, logger *log.Logger, collector *metrics.Collector) (*pipeline.Recorder, error) {
	dev, err := buildDevice(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRecorder(pipeline.Config{
		Volume:      volume,
		Device:      dev,
		Format:      cfg.Format(),
		ChunkSize:   cfg.Capture.ChunkSize,
		ReadTimeout: cfg.Capture.ReadTimeout.Duration,
		Logger:      logger,
		Collector:   collector,
	})
}

// buildSender creates the transport named in the config. The returned
// closer releases transport resources and is never nil.
func buildSender(ctx context.Context, cfg *config.Config) (transfer.Sender, io.Closer, error) {
	t := cfg.Transport
	switch t.Type {
	case config.TransportHTTP:
		retries := httpblock.DefaultRetries
		if t.Retries != nil {
			retries = *t.Retries
		}
		s, err := httpblock.New(httpblock.Config{
			Endpoint: t.Endpoint,
			DeviceID: cfg.DeviceID,
			Headers:  t.Headers,
			Timeout:  t.Timeout.Duration,
			Retries:  retries,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.TransportFramed:
		s, err := framed.New(framed.Config{
			Addr:       t.Endpoint,
			DeviceID:   cfg.DeviceID,
			AckTimeout: t.Timeout.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	case config.TransportS3:
		client, err := lode.NewS3Client(ctx, s3Config(t.S3))
		if err != nil {
			return nil, nil, err
		}
		s, err := s3multipart.New(client, s3multipart.Config{
			Bucket:   t.S3.Bucket,
			Prefix:   t.S3.Prefix,
			DeviceID: cfg.DeviceID,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", t.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildSession wraps the sender in a session client with the configured
// probe tuning.
func buildSession(cfg *config.Config, sender transfer.Sender, logger *log.Logger, collector *metrics.Collector) (*session.Client, error) {
	blockSize := cfg.Transport.BlockSize
	if cfg.Transport.Type == config.TransportS3 && blockSize < s3multipart.MinPartSize {
		logger.Warn("raising block size to the S3 minimum part size", map[string]any{
			"configured": blockSize,
			"block_size": s3multipart.MinPartSize,
		})
		blockSize = s3multipart.MinPartSize
	}
	s := cfg.Session
	return session.NewClient(session.Config{
		Sender:        sender,
		BlockSize:     blockSize,
		ProbeInterval: s.ProbeInterval.Duration,
		ProbeTimeout:  s.ProbeTimeout.Duration,
		MinBackoff:    s.MinBackoff.Duration,
		MaxBackoff:    s.MaxBackoff.Duration,
		Logger:        logger,
		Collector:     collector,
	})
}

// buildCredentials returns the provisioning gate. No file configured means
// the device is treated as provisioned.
func buildCredentials(cfg *config.Config) credentials.Gate {
	if cfg.Credentials.File == "" {
		return credentials.Static(true)
	}
	return credentials.File{Path: cfg.Credentials.File, RequireToken: cfg.Credentials.RequireToken}
}

// buildAdapter creates the completion event adapter, or nil when none is
// configured.
func buildAdapter(a config.AdapterConfig, logger *log.Logger) (adapter.Adapter, error) {
	switch a.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		wh, err := webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return wh, nil
	case "redis":
		retries := redis.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		rd, err := redis.New(redis.Config{
			URL:       a.URL,
			Channel:   a.Channel,
			PerDevice: a.PerDevice,
			Timeout:   a.Timeout.Duration,
			Retries:   retries,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return rd, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", a.Type)
	}
}

// buildStore opens the receiver's lode store.
func buildStore(ctx context.Context, r config.ReceiverConfig, collector *metrics.Collector) (*lode.Store, error) {
	switch r.Store {
	case lode.BackendFS:
		return lode.NewFSStore(r.Path, collector)
	case lode.BackendS3:
		return lode.NewS3Store(ctx, s3Config(r.S3), collector)
	case lode.BackendMemory:
		return lode.NewMemoryStore(collector), nil
	default:
		return nil, fmt.Errorf("unknown store %q", r.Store)
	}
}

func s3Config(c config.S3Config) lode.S3Config {
	return lode.S3Config{
		Bucket:       c.Bucket,
		Prefix:       c.Prefix,
		Region:       c.Region,
		Endpoint:     c.Endpoint,
		UsePathStyle: c.PathStyle,
	}
}
