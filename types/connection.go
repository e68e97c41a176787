package types

// ConnectionState is the network session state seen by the controller.
// There is no intermediate "connecting" state.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnected    ConnectionState = "connected"
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string { return string(s) }
