// Package metrics provides per-cycle metrics collection.
//
// The Collector accumulates counters during a single cycle (agent side) or
// over the lifetime of a receiver. It is a leaf package with no internal
// dependencies. Upload counters are per-block, capture counters per chunk.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Cycle lifecycle
	CyclesStarted   int64 `json:"cycles_started"`
	CyclesSucceeded int64 `json:"cycles_succeeded"`
	CyclesFailed    int64 `json:"cycles_failed"`
	OutcomeByStatus map[string]int64 `json:"outcome_by_status"`

	// Session
	ConnectEvents    int64 `json:"connect_events"`
	DisconnectEvents int64 `json:"disconnect_events"`
	Heartbeats       int64 `json:"heartbeats"`

	// Capture
	ChunkReads        int64 `json:"chunk_reads"`
	TransientFailures int64 `json:"transient_failures"`
	BytesCaptured     int64 `json:"bytes_captured"`

	// Upload
	BlocksSent    int64 `json:"blocks_sent"`
	BytesSent     int64 `json:"bytes_sent"`
	UploadSuccess int64 `json:"upload_success"`
	UploadFailure int64 `json:"upload_failure"`

	// Receiver / storage
	BlocksAccepted   int64 `json:"blocks_accepted"`
	BlocksRejected   int64 `json:"blocks_rejected"`
	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`

	// Dimensions (informational, set at construction)
	DeviceID       string `json:"device_id"`
	CycleID        string `json:"cycle_id"`
	Transport      string `json:"transport"`
	StorageBackend string `json:"storage_backend"`
}

// Collector accumulates metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	cyclesStarted   int64
	cyclesSucceeded int64
	cyclesFailed    int64
	outcomeByStatus map[string]int64

	connectEvents    int64
	disconnectEvents int64
	heartbeats       int64

	chunkReads        int64
	transientFailures int64
	bytesCaptured     int64

	blocksSent    int64
	bytesSent     int64
	uploadSuccess int64
	uploadFailure int64

	blocksAccepted   int64
	blocksRejected   int64
	lodeWriteSuccess int64
	lodeWriteFailure int64

	deviceID       string
	cycleID        string
	transport      string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
// cycleID is empty for long-lived receivers.
func NewCollector(deviceID, cycleID, transport, storageBackend string) *Collector {
	return &Collector{
		outcomeByStatus: make(map[string]int64),
		deviceID:        deviceID,
		cycleID:         cycleID,
		transport:       transport,
		storageBackend:  storageBackend,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Cycle lifecycle ---

// IncCycleStarted records a cycle start.
func (c *Collector) IncCycleStarted() {
	if c == nil {
		return
	}
	c.add(&c.cyclesStarted, 1)
}

// RecordOutcome records the final status of a cycle.
// success counts toward CyclesSucceeded, anything else toward CyclesFailed.
func (c *Collector) RecordOutcome(status string, success bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomeByStatus[status]++
	if success {
		c.cyclesSucceeded++
	} else {
		c.cyclesFailed++
	}
}

// --- Session ---

// IncConnectEvent records a transition to connected.
func (c *Collector) IncConnectEvent() {
	if c == nil {
		return
	}
	c.add(&c.connectEvents, 1)
}

// IncDisconnectEvent records a transition to disconnected.
func (c *Collector) IncDisconnectEvent() {
	if c == nil {
		return
	}
	c.add(&c.disconnectEvents, 1)
}

// IncHeartbeat records one idle heartbeat.
func (c *Collector) IncHeartbeat() {
	if c == nil {
		return
	}
	c.add(&c.heartbeats, 1)
}

// --- Capture ---

// IncChunkRead records a successful device read of n bytes appended.
func (c *Collector) IncChunkRead(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunkReads++
	c.bytesCaptured += int64(n)
	c.mu.Unlock()
}

// IncTransientFailure records a device read that failed and was skipped.
func (c *Collector) IncTransientFailure() {
	if c == nil {
		return
	}
	c.add(&c.transientFailures, 1)
}

// --- Upload ---

// IncBlockSent records a block handed to the transport.
func (c *Collector) IncBlockSent(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.blocksSent++
	c.bytesSent += int64(n)
	c.mu.Unlock()
}

// IncUploadSuccess records a committed upload.
func (c *Collector) IncUploadSuccess() {
	if c == nil {
		return
	}
	c.add(&c.uploadSuccess, 1)
}

// IncUploadFailure records an aborted upload.
func (c *Collector) IncUploadFailure() {
	if c == nil {
		return
	}
	c.add(&c.uploadFailure, 1)
}

// --- Receiver / storage ---

// IncBlockAccepted records a block accepted by the receiver.
func (c *Collector) IncBlockAccepted() {
	if c == nil {
		return
	}
	c.add(&c.blocksAccepted, 1)
}

// IncBlockRejected records a block rejected by the receiver.
func (c *Collector) IncBlockRejected() {
	if c == nil {
		return
	}
	c.add(&c.blocksRejected, 1)
}

// IncLodeWriteSuccess records a successful store write (per object).
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteSuccess, 1)
}

// IncLodeWriteFailure records a failed store write (per object).
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]int64, len(c.outcomeByStatus))
	for k, v := range c.outcomeByStatus {
		outcomes[k] = v
	}

	return Snapshot{
		CyclesStarted:   c.cyclesStarted,
		CyclesSucceeded: c.cyclesSucceeded,
		CyclesFailed:    c.cyclesFailed,
		OutcomeByStatus: outcomes,

		ConnectEvents:    c.connectEvents,
		DisconnectEvents: c.disconnectEvents,
		Heartbeats:       c.heartbeats,

		ChunkReads:        c.chunkReads,
		TransientFailures: c.transientFailures,
		BytesCaptured:     c.bytesCaptured,

		BlocksSent:    c.blocksSent,
		BytesSent:     c.bytesSent,
		UploadSuccess: c.uploadSuccess,
		UploadFailure: c.uploadFailure,

		BlocksAccepted:   c.blocksAccepted,
		BlocksRejected:   c.blocksRejected,
		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		DeviceID:       c.deviceID,
		CycleID:        c.cycleID,
		Transport:      c.transport,
		StorageBackend: c.storageBackend,
	}
}
