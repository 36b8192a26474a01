package core

// Frame is a raw signaling payload, already encoded for the wire.
type Frame []byte

// SessionID is the ephemeral per-connection handle. It is assigned on
// connect, destroyed on disconnect and never persisted; durable identity
// lives in domain.UserID.
type SessionID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
