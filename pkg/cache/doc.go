// Package cache stores rendered page responses on a key-value backend.
//
// The manager serializes entries as JSON and delegates expiry to the
// backend's TTL support:
//
// - Typed entries with status, headers, body and expiry
// - Raw byte and counter access for the remembered-URL index
// - Access to the backend's compare-and-swap capability when present
// - Prometheus metrics for backend failures and entry sizes
//
// # Basic Usage
//
//	// Pick a backend
//	b := backend.NewRedis(redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	}), "pagecache:")
//
//	// Create cache manager
//	manager := cache.NewManager(b)
//
//	// Store a response for ten minutes
//	entry := cache.ResponseToEntry(resp, 10*time.Minute, time.Now())
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
//	// Get from cache
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// render the page
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - pagecache_backend_errors_total{operation} - Backend operation errors
//   - pagecache_entry_size_bytes - Encoded entry size histogram
package cache
