// Package credentials gates the connect stage on provisioned credentials.
//
// The agent polls a Gate until it reports ready. Provisioning happens out
// of band (an operator writes the credentials file), so the poll never
// gives up on its own; only the context ends it.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/earshot/log"
)

// DefaultPollInterval is the delay between readiness checks.
const DefaultPollInterval = time.Second

// Gate reports whether credentials are provisioned.
type Gate interface {
	Ready() bool
}

// Static is a Gate with a fixed answer.
type Static bool

// Ready implements Gate.
func (s Static) Ready() bool { return bool(s) }

// Credentials is the provisioned credential set.
type Credentials struct {
	DeviceID string `yaml:"device_id"`
	Token    string `yaml:"token"`
}

// File is a Gate backed by a YAML credentials file. It is ready once the
// file exists, parses, and has every required field set.
type File struct {
	Path string
	// RequireToken makes an empty token count as not provisioned.
	RequireToken bool
}

// Load reads and validates the credentials file.
func (f File) Load() (*Credentials, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if c.DeviceID == "" {
		return nil, errors.New("credentials: device_id is not set")
	}
	if f.RequireToken && c.Token == "" {
		return nil, errors.New("credentials: token is not set")
	}
	return &c, nil
}

// Ready implements Gate.
func (f File) Ready() bool {
	_, err := f.Load()
	return err == nil
}

// Wait polls gate every interval until it is ready or ctx is done.
// A warning is logged once if the first check fails.
func Wait(ctx context.Context, gate Gate, interval time.Duration, logger *log.Logger) error {
	if gate.Ready() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger != nil {
		logger.Warn("credentials are not set, waiting for provisioning", nil)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if gate.Ready() {
				return nil
			}
		}
	}
}
