package types

// Version is the canonical project version.
// The CLI, the wire protocol and the completion event share this version.
const Version = "0.4.2"

// WireVersion is the block frame protocol version carried in hello frames.
const WireVersion = 1
