// Package cache is the durable entity store shared by the UI and the
// fetch pipeline.
//
// Entities are kept as raw JSON keyed by (kind, id), each with a fetch
// timestamp and TTL. Entries past their TTL are stale, not gone: they
// are served immediately while a background refresh replaces them
// (stale-while-revalidate). The store persists one JSON document per
// entity kind under the cache directory; Flush writes each through a
// temp file and rename so a crash mid-write never corrupts previously
// valid data. Corrupt or version-mismatched files degrade to a cold
// start at load time.
package cache
