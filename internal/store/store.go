// Package store provides the durable key-value adapter used by the session
// controller and the client caches. It is the only component that touches
// persistent storage; everything else goes through the Store interface.
package store

// Store is the durable key-value contract. Implementations never return
// errors: a storage fault degrades to an in-process fallback so callers
// always observe their own writes for the lifetime of the process.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key. The write is best-effort durable; on a
	// persistence failure the value remains readable in-process.
	Set(key, value string)

	// Remove deletes key. Removing an absent key is a no-op.
	Remove(key string)

	// Keys returns a snapshot of all stored keys.
	Keys() []string
}

// Evictable is implemented by stores that can notify a caller-registered
// hook when a persist fails, giving caches a chance to free space before
// the write is re-attempted.
type Evictable interface {
	SetEvictionHook(fn func())
}
