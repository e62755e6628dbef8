package model

// Version constants for the persisted schema and the wire protocol.
const (
	// ProtocolVersion is the event wire protocol version.
	ProtocolVersion = "1"

	// ServerVersion is the listsync server version.
	ServerVersion = "0.1.0"
)
