// Package persist saves and restores the active session across process
// restarts. The orchestrator writes the whole session state as one JSON
// blob under a single fixed key; an idle or completed session means the
// key is absent.
package persist

import "context"

// Store is the minimal key->blob surface the session adapter needs.
// Implementations must tolerate concurrent calls; the orchestrator only
// ever calls from its single dispatch worker, but nothing here depends
// on that.
type Store interface {
	// Get returns the blob for key, reporting absence without error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
