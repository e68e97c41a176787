package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/earshot/types"
)

// Transport names.
const (
	TransportHTTP   = "http"
	TransportFramed = "framed"
	TransportS3     = "s3"
)

// Capture device names.
const (
	DeviceTone      = "tone"
	DeviceReplay    = "replay"
	DevicePortAudio = "portaudio"
)

// Config represents an earshot.yaml configuration file.
// All values are optional; Defaults fills what is left unset and CLI flags
// always override config values.
type Config struct {
	DeviceID          string            `yaml:"device_id"`
	LogLevel          string            `yaml:"log_level"`
	HeartbeatInterval Duration          `yaml:"heartbeat_interval"`
	Credentials       CredentialsConfig `yaml:"credentials"`
	Transport         TransportConfig   `yaml:"transport"`
	Session           SessionConfig     `yaml:"session"`
	Capture           CaptureConfig     `yaml:"capture"`
	Storage           StorageConfig     `yaml:"storage"`
	Adapter           AdapterConfig     `yaml:"adapter"`
	Receiver          ReceiverConfig    `yaml:"receiver"`
}

// CredentialsConfig points at the provisioned credentials file.
// An empty File means the device is always considered provisioned.
type CredentialsConfig struct {
	File         string   `yaml:"file"`
	RequireToken bool     `yaml:"require_token"`
	PollInterval Duration `yaml:"poll_interval"`
}

// TransportConfig selects and configures the upload transport.
type TransportConfig struct {
	Type      string            `yaml:"type"`
	Endpoint  string            `yaml:"endpoint"`
	BlockSize int               `yaml:"block_size"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
	S3        S3Config          `yaml:"s3"`
}

// S3Config addresses a bucket for the s3 transport and the receiver store.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// SessionConfig tunes the connectivity probe loop.
type SessionConfig struct {
	ProbeInterval  Duration `yaml:"probe_interval"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	MinBackoff     Duration `yaml:"min_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// CaptureConfig selects the input device and describes the recording.
type CaptureConfig struct {
	Device      string       `yaml:"device"`
	FileName    string       `yaml:"file_name"`
	Duration    uint32       `yaml:"duration_seconds"`
	SampleRate  int          `yaml:"sample_rate"`
	BitDepth    int          `yaml:"bit_depth"`
	Channels    int          `yaml:"channels"`
	ChunkSize   int          `yaml:"chunk_size"`
	ReadTimeout Duration     `yaml:"read_timeout"`
	Tone        ToneConfig   `yaml:"tone"`
	Replay      ReplayConfig `yaml:"replay"`
}

// ToneConfig configures the tone generator device.
type ToneConfig struct {
	Frequency float64 `yaml:"frequency"`
	Level     float64 `yaml:"level"`
	GainDB    float64 `yaml:"gain_db"`
	Paced     *bool   `yaml:"paced,omitempty"`
}

// ReplayConfig configures the raw PCM replay device.
type ReplayConfig struct {
	Path string `yaml:"path"`
	Loop bool   `yaml:"loop"`
}

// StorageConfig describes the recording volume.
type StorageConfig struct {
	Root   string `yaml:"root"`
	Create bool   `yaml:"create"`
}

// AdapterConfig holds completion event adapter settings.
type AdapterConfig struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Channel   string            `yaml:"channel,omitempty"`
	PerDevice bool              `yaml:"per_device,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
}

// ReceiverConfig configures earshot serve.
type ReceiverConfig struct {
	HTTPAddr      string   `yaml:"http_addr"`
	FramedAddr    string   `yaml:"framed_addr"`
	MaxObjectSize int64    `yaml:"max_object_size"`
	IdleTimeout   Duration `yaml:"idle_timeout"`
	Store         string   `yaml:"store"`
	Path          string   `yaml:"path"`
	S3            S3Config `yaml:"s3"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Defaults returns a config for a bench run: tone device, local volume,
// HTTP transport to a receiver on localhost.
func Defaults() *Config {
	f := types.DefaultAudioFormat()
	return &Config{
		DeviceID:          "esp-01",
		LogLevel:          "info",
		HeartbeatInterval: Duration{5 * time.Second},
		Credentials:       CredentialsConfig{PollInterval: Duration{time.Second}},
		Transport: TransportConfig{
			Type:      TransportHTTP,
			Endpoint:  "http://127.0.0.1:8080",
			BlockSize: 4096,
		},
		Capture: CaptureConfig{
			Device:     DeviceTone,
			FileName:   types.DefaultFileName,
			Duration:   5,
			SampleRate: f.SampleRate,
			BitDepth:   f.BitDepth,
			Channels:   f.Channels,
		},
		Storage: StorageConfig{Root: "./sdcard", Create: true},
		Receiver: ReceiverConfig{
			HTTPAddr: ":8080",
			Store:    "fs",
			Path:     "./received",
		},
	}
}

// ApplyDefaults fills zero fields of c from Defaults.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	setString(&c.DeviceID, d.DeviceID)
	setString(&c.LogLevel, d.LogLevel)
	setDuration(&c.HeartbeatInterval, d.HeartbeatInterval)
	setDuration(&c.Credentials.PollInterval, d.Credentials.PollInterval)
	setString(&c.Transport.Type, d.Transport.Type)
	if c.Transport.Type == TransportHTTP {
		setString(&c.Transport.Endpoint, d.Transport.Endpoint)
	}
	if c.Transport.BlockSize == 0 {
		c.Transport.BlockSize = d.Transport.BlockSize
	}
	setString(&c.Capture.Device, d.Capture.Device)
	setString(&c.Capture.FileName, d.Capture.FileName)
	if c.Capture.Duration == 0 {
		c.Capture.Duration = d.Capture.Duration
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = d.Capture.SampleRate
	}
	if c.Capture.BitDepth == 0 {
		c.Capture.BitDepth = d.Capture.BitDepth
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = d.Capture.Channels
	}
	if c.Storage.Root == "" {
		c.Storage = d.Storage
	}
	setString(&c.Receiver.Store, d.Receiver.Store)
	if c.Receiver.Store == "fs" {
		setString(&c.Receiver.Path, d.Receiver.Path)
	}
	if c.Receiver.HTTPAddr == "" && c.Receiver.FramedAddr == "" {
		c.Receiver.HTTPAddr = d.Receiver.HTTPAddr
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *Duration, def Duration) {
	if dst.Duration == 0 {
		*dst = def
	}
}

// Format returns the configured PCM format.
func (c *Config) Format() types.AudioFormat {
	return types.AudioFormat{
		SampleRate: c.Capture.SampleRate,
		BitDepth:   c.Capture.BitDepth,
		Channels:   c.Capture.Channels,
	}
}

// CaptureContext returns the configured file name and duration.
func (c *Config) CaptureContext() types.CaptureContext {
	return types.CaptureContext{FileName: c.Capture.FileName, DurationSeconds: c.Capture.Duration}
}

// Validate checks the agent side of the config (run, record, upload).
func (c *Config) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	switch c.Transport.Type {
	case TransportHTTP, TransportFramed:
		if c.Transport.Endpoint == "" {
			errs = append(errs, fmt.Errorf("transport.endpoint is required for %s", c.Transport.Type))
		}
	case TransportS3:
		if c.Transport.S3.Bucket == "" {
			errs = append(errs, errors.New("transport.s3.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.type %q (want http, framed or s3)", c.Transport.Type))
	}
	if c.Transport.BlockSize < 0 {
		errs = append(errs, errors.New("transport.block_size must be positive"))
	}
	switch c.Capture.Device {
	case DeviceTone, DevicePortAudio:
	case DeviceReplay:
		if c.Capture.Replay.Path == "" {
			errs = append(errs, errors.New("capture.replay.path is required for replay"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown capture.device %q (want tone, replay or portaudio)", c.Capture.Device))
	}
	if err := c.CaptureContext().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if f := c.Format(); f.Validate() != nil {
		errs = append(errs, fmt.Errorf("capture: %w", f.Validate()))
	} else {
		if err := c.CaptureContext().ValidateFor(f); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
		if cs := c.Capture.ChunkSize; cs < 0 || cs%f.BlockAlign() != 0 {
			errs = append(errs, fmt.Errorf("capture.chunk_size must be a multiple of the %d-byte frame size, got %d", f.BlockAlign(), cs))
		}
	}
	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}
	if err := c.Adapter.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the adapter section. An empty type disables the adapter.
func (a AdapterConfig) Validate() error {
	switch a.Type {
	case "":
		return nil
	case "webhook", "redis":
		if a.URL == "" {
			return fmt.Errorf("adapter.url is required for %s", a.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown adapter.type %q (want webhook or redis)", a.Type)
	}
}

// ValidateReceiver checks the receiver section for earshot serve.
func (c *Config) ValidateReceiver() error {
	var errs []error
	r := c.Receiver
	if r.HTTPAddr == "" && r.FramedAddr == "" {
		errs = append(errs, errors.New("receiver needs http_addr or framed_addr"))
	}
	switch r.Store {
	case "fs":
		if r.Path == "" {
			errs = append(errs, errors.New("receiver.path is required for fs store"))
		}
	case "s3":
		if r.S3.Bucket == "" {
			errs = append(errs, errors.New("receiver.s3.bucket is required for s3 store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown receiver.store %q (want fs, s3 or memory)", r.Store))
	}
	if r.MaxObjectSize < 0 {
		errs = append(errs, errors.New("receiver.max_object_size must not be negative"))
	}
	if err := c.Adapter.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
