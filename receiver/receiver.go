package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/earshot/lode"
	"github.com/justapithecus/earshot/log"
	"github.com/justapithecus/earshot/metrics"
	"github.com/justapithecus/earshot/types"
)

var (
	// ErrStore wraps failures to persist a completed object.
	ErrStore = errors.New("persist object")
	// ErrInvalidKey indicates a missing or malformed device id or resource.
	ErrInvalidKey = errors.New("invalid upload key")
)

// Stored describes a persisted object.
type Stored struct {
	Path        string `json:"path"`
	DeviceID    string `json:"device_id"`
	Resource    string `json:"resource"`
	ContentType string `json:"content_type"`
	Bytes       int64  `json:"bytes"`
	Blocks      uint64 `json:"blocks"`
}

// Config configures a Receiver.
type Config struct {
	// Store persists completed objects (required).
	Store *lode.Store
	// MaxObjectSize bounds one object (default 64 MiB).
	MaxObjectSize int64
	// Logger is optional; nil discards.
	Logger *log.Logger
	// Collector is optional; nil disables metrics.
	Collector *metrics.Collector
	// Now returns the time used for the day partition (default time.Now).
	Now func() time.Time
	// OnStored is called after each object is persisted. Optional.
	OnStored func(Stored)
}

// Receiver validates incoming blocks and persists completed objects.
// It is shared by the framed and HTTP front ends.
type Receiver struct {
	config Config
	asm    *Assembler
	logger *log.Logger
}

// New creates a receiver from cfg.
func New(cfg Config) (*Receiver, error) {
	if cfg.Store == nil {
		return nil, errors.New("receiver requires a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Receiver{
		config: cfg,
		asm:    NewAssembler(cfg.MaxObjectSize),
		logger: cfg.Logger.Named("receiver"),
	}, nil
}

// Accept applies one block. When it completes the object, the object is
// written to the store and returned. Duplicate blocks are acknowledged
// without effect.
func (r *Receiver) Accept(ctx context.Context, key Key, b Block) (*Stored, error) {
	if err := validateKey(key); err != nil {
		r.config.Collector.IncBlockRejected()
		return nil, err
	}

	obj, err := r.asm.Add(key, b)
	if errors.Is(err, ErrDuplicate) {
		r.logger.Debug("duplicate block", map[string]any{
			"upload": key.String(),
			"index":  b.Index,
		})
		return nil, nil
	}
	if err != nil {
		r.config.Collector.IncBlockRejected()
		r.logger.Warn("block rejected", map[string]any{
			"upload": key.String(),
			"index":  b.Index,
			"error":  err.Error(),
		})
		return nil, err
	}
	r.config.Collector.IncBlockAccepted()
	if obj == nil {
		return nil, nil
	}

	stored, err := r.persist(ctx, obj)
	if err != nil {
		r.asm.Rollback(key)
		r.logger.Error("persist failed", map[string]any{
			"upload":    key.String(),
			"retriable": lode.IsRetriable(err),
			"error":     err.Error(),
		})
		return nil, err
	}
	r.asm.Release(key)

	r.logger.Info("object stored", map[string]any{
		"path":   stored.Path,
		"bytes":  stored.Bytes,
		"blocks": stored.Blocks,
	})
	if r.config.OnStored != nil {
		r.config.OnStored(*stored)
	}
	return stored, nil
}

func validateKey(k Key) error {
	if k.DeviceID == "" || strings.ContainsAny(k.DeviceID, `/\=`) {
		return fmt.Errorf("%w: device id %q", ErrInvalidKey, k.DeviceID)
	}
	if err := types.ValidateFileName(k.Resource); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return nil
}

func (r *Receiver) persist(ctx context.Context, obj *Object) (*Stored, error) {
	path := types.ObjectPath(obj.Key.DeviceID, r.config.Now(), obj.Key.Resource)
	if err := r.config.Store.PutObject(ctx, path, bytes.NewReader(obj.Data)); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrStore, path, err)
	}
	return &Stored{
		Path:        path,
		DeviceID:    obj.Key.DeviceID,
		Resource:    obj.Key.Resource,
		ContentType: obj.ContentType,
		Bytes:       int64(len(obj.Data)),
		Blocks:      obj.Blocks,
	}, nil
}

// Abort drops an incomplete upload.
func (r *Receiver) Abort(key Key) {
	if r.asm.Discard(key) {
		r.logger.Info("upload aborted", map[string]any{"upload": key.String()})
	}
}

// Pending returns the number of incomplete uploads.
func (r *Receiver) Pending() int {
	return r.asm.Pending()
}
