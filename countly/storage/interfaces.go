// Package storage defines the request log shared by every storage backend
package storage

// DataEntry is one persisted outbound request.
// IDs are assigned at insertion time, strictly increasing and never reused by a backend instance.
type DataEntry struct {
	ID   int64
	Data string
}

// RequestStorage is an ordered store of request bodies. The entry with the smallest
// ID is the front of the queue. Implementations never panic or return errors into
// caller code: a backend that cannot reach its medium behaves as an empty, no-op queue.
type RequestStorage interface {
	// Init prepares the backend. It is idempotent and re-arms a broken backend.
	Init()
	Count() int64
	InsertAtEnd(data string)
	// PeekFront returns the lowest-id entry without removing it. ok is false when empty.
	PeekFront() (entry DataEntry, ok bool)
	// PeekAll returns every entry in ascending id order.
	PeekAll() []DataEntry
	RemoveFront()
	// RemoveEntry removes a specific entry. Removing an entry that no longer exists is a no-op.
	RemoveEntry(entry DataEntry)
	ClearAll()
	Close() error
}
