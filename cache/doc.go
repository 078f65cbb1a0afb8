// Package cache provides the read-through cache and the key vocabulary shared by
// the query and mutation layers.
//
// # Overview
//
// Two concerns live here:
//
//   - CacheService: a read-through cache for single-shot lookups (item detail,
//     user directory, analytics summary). Concurrent misses for one key share a
//     single fetch, and failed fetches are never stored.
//   - SignatureSerializer: turns a list filter into a canonical string so that
//     two filters describing the same request always map to the same result set.
//
// Paginated result sets are not stored here. They live in the store package,
// which tracks per-page state the read-through cache has no notion of.
//
// # Keys
//
// Keys are built from namespaces joined with KeySeparator:
//
//	key := cache.Key(cache.NamespaceItemDetail, "b1") // "item::detail::b1"
//
// Invalidation after a write drops whole namespaces with DeleteByPrefix, so a
// namespace must never be a prefix of an unrelated one.
//
// # Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	item, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (catalogue.Item, error) {
//		return client.GetItem(ctx, "b1")
//	})
//
// # Filter signatures
//
// NewSignatureSerializer reads `signature:"name"` struct tags. Zero-valued
// fields are omitted and "-" excludes a field (page size, cursors). The result
// is url-encoded with sorted keys, so separators inside free text cannot
// collide with the key structure.
package cache
