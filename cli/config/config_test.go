package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `device_id: esp-07
log_level: debug
heartbeat_interval: 2s

credentials:
  file: /etc/earshot/credentials.yaml
  require_token: true
  poll_interval: 500ms

transport:
  type: framed
  endpoint: 10.0.0.2:9090
  block_size: 8192
  timeout: 3s
  retries: 5

session:
  probe_interval: 1s
  probe_timeout: 2s
  min_backoff: 100ms
  max_backoff: 4s
  connect_timeout: 30s

capture:
  device: replay
  file_name: take.wav
  duration_seconds: 10
  sample_rate: 8000
  bit_depth: 16
  channels: 1
  chunk_size: 2048
  read_timeout: 250ms
  replay:
    path: ./fixtures/speech.pcm
    loop: true

storage:
  root: /mnt/sdcard
  create: true

adapter:
  type: webhook
  url: https://hooks.example.com/earshot
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

receiver:
  http_addr: ":8080"
  framed_addr: ":9090"
  max_object_size: 1048576
  idle_timeout: 30s
  store: s3
  s3:
    bucket: recordings
    prefix: bench
    region: us-east-1
    endpoint: http://localhost:9000
    path_style: true
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "device_id", cfg.DeviceID, "esp-07")
	assertEqual(t, "log_level", cfg.LogLevel, "debug")
	if cfg.HeartbeatInterval.Duration != 2*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.HeartbeatInterval)
	}

	assertEqual(t, "credentials.file", cfg.Credentials.File, "/etc/earshot/credentials.yaml")
	if !cfg.Credentials.RequireToken || cfg.Credentials.PollInterval.Duration != 500*time.Millisecond {
		t.Errorf("credentials = %+v", cfg.Credentials)
	}

	assertEqual(t, "transport.type", cfg.Transport.Type, TransportFramed)
	assertEqual(t, "transport.endpoint", cfg.Transport.Endpoint, "10.0.0.2:9090")
	if cfg.Transport.BlockSize != 8192 {
		t.Errorf("block_size = %d", cfg.Transport.BlockSize)
	}
	if cfg.Transport.Retries == nil || *cfg.Transport.Retries != 5 {
		t.Error("expected transport.retries=5")
	}

	if cfg.Session.ConnectTimeout.Duration != 30*time.Second || cfg.Session.MaxBackoff.Duration != 4*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}

	assertEqual(t, "capture.device", cfg.Capture.Device, DeviceReplay)
	assertEqual(t, "capture.file_name", cfg.Capture.FileName, "take.wav")
	assertEqual(t, "capture.replay.path", cfg.Capture.Replay.Path, "./fixtures/speech.pcm")
	if cfg.Capture.Duration != 10 || cfg.Capture.SampleRate != 8000 || !cfg.Capture.Replay.Loop {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if got := cfg.Format().ByteRate(); got != 16000 {
		t.Errorf("byte rate = %d, want 16000", got)
	}

	assertEqual(t, "storage.root", cfg.Storage.Root, "/mnt/sdcard")

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Error("expected Authorization header")
	}

	assertEqual(t, "receiver.store", cfg.Receiver.Store, "s3")
	assertEqual(t, "receiver.s3.bucket", cfg.Receiver.S3.Bucket, "recordings")
	if !cfg.Receiver.S3.PathStyle || cfg.Receiver.MaxObjectSize != 1<<20 {
		t.Errorf("receiver = %+v", cfg.Receiver)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := cfg.ValidateReceiver(); err != nil {
		t.Errorf("ValidateReceiver: %v", err)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DeviceID != "" {
		t.Errorf("expected empty device_id, got %q", cfg.DeviceID)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/earshot.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("EARSHOT_TEST_DEVICE", "esp-env")
	yaml := `device_id: ${EARSHOT_TEST_DEVICE}
storage:
  root: ${EARSHOT_TEST_UNSET:-/tmp/sd}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "device_id", cfg.DeviceID, "esp-env")
	assertEqual(t, "storage.root", cfg.Storage.Root, "/tmp/sd")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `device_id: esp-01
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `capture:
  device: tone
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_CommentsOnlyConfig(t *testing.T) {
	path := writeTemp(t, "# This is a comment\n# Another comment\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed for comments-only config: %v", err)
	}
	if cfg.DeviceID != "" {
		t.Errorf("expected empty device_id, got %q", cfg.DeviceID)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	yaml := `adapter:
  type: webhook
  url: https://example.com
  retries: 0
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil {
		t.Fatal("expected retries to be set")
	}
	if *cfg.Adapter.Retries != 0 {
		t.Errorf("expected retries=0, got %d", *cfg.Adapter.Retries)
	}
	if cfg.Transport.Retries != nil {
		t.Error("expected omitted transport.retries to be nil")
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	yaml := `session:
  connect_timeout: not-a-duration
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "not-a-duration") {
		t.Errorf("error should mention the value, got: %v", err)
	}
}

func TestDuration_EmptyIsZero(t *testing.T) {
	yaml := `session:
  connect_timeout: ""
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.ConnectTimeout.Duration != 0 {
		t.Errorf("expected zero, got %v", cfg.Session.ConnectTimeout)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assertEqual(t, "device_id", cfg.DeviceID, "esp-01")
	assertEqual(t, "transport.type", cfg.Transport.Type, TransportHTTP)
	assertEqual(t, "transport.endpoint", cfg.Transport.Endpoint, "http://127.0.0.1:8080")
	assertEqual(t, "capture.device", cfg.Capture.Device, DeviceTone)
	assertEqual(t, "capture.file_name", cfg.Capture.FileName, "record.wav")
	assertEqual(t, "receiver.store", cfg.Receiver.Store, "fs")
	if cfg.Capture.Duration != 5 || cfg.Format().ByteRate() != 32000 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.HeartbeatInterval.Duration != 5*time.Second {
		t.Errorf("heartbeat_interval = %v", cfg.HeartbeatInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if err := cfg.ValidateReceiver(); err != nil {
		t.Errorf("receiver defaults should validate: %v", err)
	}
}

func TestApplyDefaults_KeepsSetValues(t *testing.T) {
	cfg := &Config{
		DeviceID:  "esp-09",
		Transport: TransportConfig{Type: TransportS3, S3: S3Config{Bucket: "b"}},
		Capture:   CaptureConfig{Duration: 2},
		Receiver:  ReceiverConfig{FramedAddr: ":9090"},
	}
	cfg.ApplyDefaults()

	assertEqual(t, "device_id", cfg.DeviceID, "esp-09")
	assertEqual(t, "transport.endpoint", cfg.Transport.Endpoint, "")
	assertEqual(t, "receiver.http_addr", cfg.Receiver.HTTPAddr, "")
	if cfg.Capture.Duration != 2 {
		t.Errorf("duration = %d", cfg.Capture.Duration)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no device", func(c *Config) { c.DeviceID = "" }, "device_id"},
		{"unknown transport", func(c *Config) { c.Transport.Type = "carrier-pigeon" }, "transport.type"},
		{"framed without endpoint", func(c *Config) {
			c.Transport.Type = TransportFramed
			c.Transport.Endpoint = ""
		}, "transport.endpoint"},
		{"s3 without bucket", func(c *Config) { c.Transport.Type = TransportS3 }, "bucket"},
		{"unknown device", func(c *Config) { c.Capture.Device = "theremin" }, "capture.device"},
		{"replay without path", func(c *Config) { c.Capture.Device = DeviceReplay }, "replay.path"},
		{"file name with separator", func(c *Config) { c.Capture.FileName = "a/b.wav" }, "capture"},
		{"file name too long", func(c *Config) { c.Capture.FileName = strings.Repeat("x", 32) }, "capture"},
		{"bad bit depth", func(c *Config) { c.Capture.BitDepth = 12 }, "capture"},
		{"chunk smaller than frame", func(c *Config) { c.Capture.ChunkSize = 1 }, "capture.chunk_size"},
		{"chunk splits stereo frame", func(c *Config) {
			c.Capture.Channels = 2
			c.Capture.ChunkSize = 4098
		}, "4-byte frame"},
		{"aligned chunk", func(c *Config) { c.Capture.ChunkSize = 4096 }, ""},
		{"recording too long for wav", func(c *Config) { c.Capture.Duration = 200000 }, "WAV file holds at most"},
		{"unknown adapter", func(c *Config) { c.Adapter.Type = "kafka" }, "adapter.type"},
		{"adapter without url", func(c *Config) { c.Adapter.Type = "redis" }, "adapter.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReceiver(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"memory store", func(c *Config) { c.Receiver.Store = "memory" }, false},
		{"no listeners", func(c *Config) { c.Receiver.HTTPAddr = "" }, true},
		{"fs without path", func(c *Config) { c.Receiver.Path = "" }, true},
		{"s3 without bucket", func(c *Config) { c.Receiver.Store = "s3" }, true},
		{"unknown store", func(c *Config) { c.Receiver.Store = "tape" }, true},
		{"negative size", func(c *Config) { c.Receiver.MaxObjectSize = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			if err := cfg.ValidateReceiver(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateReceiver() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "earshot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
