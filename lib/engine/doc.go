// Package engine implements the annotation store data model and the query
// machinery the daemon dispatches to. A store pairs plain-text resources with
// stand-off annotations: each annotation references a span of a resource by
// Unicode code-point offsets (end-exclusive) and carries key/value annotation
// data grouped into sets.
//
// The package focuses on:
//   - Loading and saving stores in the STAM-JSON interchange format
//   - Parsing and executing queries (a small SELECT/ADD/DELETE language);
//     read queries never mutate a store, mutating queries require the caller
//     to hold write access
//   - Serializing result sets into the closed set of output formats: STAM-JSON,
//     plain text, HTML, and W3C Web Annotation JSON-LD
//
// The engine itself performs no locking. Callers arbitrate access through the
// pool and guard packages; a store must only be mutated under exclusive access.
package engine
