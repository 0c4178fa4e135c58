package core

// Frame is one encoded signaling event.
type Frame []byte

// SignalConnection abstracts the per-client messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend never blocks; it fails fast when the peer cannot keep up.
	TrySend(Frame) error
	Close()
}
