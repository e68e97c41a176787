package types

// Frame type discriminants for the framed block transport.
const (
	FrameTypeHello = "hello"
	FrameTypeBlock = "block"
	FrameTypeAck   = "ack"
)

// HelloFrame opens a framed connection. The receiver answers with an
// AckFrame carrying Index 0 and OK=true when it accepts the session.
type HelloFrame struct {
	// Type is always "hello".
	Type string `msgpack:"type"`
	// Version is the wire protocol version (WireVersion).
	Version int `msgpack:"version"`
	// DeviceID identifies the sender.
	DeviceID string `msgpack:"device_id"`
}

// BlockFrame carries one block of a blockwise upload.
// Index starts at 0 and increases by 1 per block of the same resource.
type BlockFrame struct {
	// Type is always "block".
	Type string `msgpack:"type"`
	// Resource is the target object name (no path separators).
	Resource string `msgpack:"resource"`
	// ContentType is the MIME content type of the whole object.
	ContentType string `msgpack:"content_type"`
	// Index is the zero-based block index.
	Index uint64 `msgpack:"index"`
	// BlockSize is the negotiated maximum block size.
	BlockSize int `msgpack:"block_size"`
	// IsLast marks the final block of the object.
	IsLast bool `msgpack:"is_last"`
	// Data is the raw block payload (len <= BlockSize).
	Data []byte `msgpack:"data"`
}

// AckFrame acknowledges a hello or block frame.
type AckFrame struct {
	// Type is always "ack".
	Type string `msgpack:"type"`
	// Resource echoes the block resource (empty for hello acks).
	Resource string `msgpack:"resource,omitempty"`
	// Index echoes the acknowledged block index.
	Index uint64 `msgpack:"index"`
	// OK is false when the receiver rejected the block.
	OK bool `msgpack:"ok"`
	// Error describes the rejection when OK is false.
	Error string `msgpack:"error,omitempty"`
}
