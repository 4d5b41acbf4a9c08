// Package memory implements epoch-based safe memory reclamation for the
// lock-free containers. Goroutines register a Handle, pin it around
// every traversal, and retire unlinked nodes into per-handle rings; a
// retired node is reclaimed only once the global epoch has advanced two
// steps past its retirement, which proves no pinned goroutine can still
// reach it.
//
// The package is dependency-free and knows nothing about the containers
// themselves; anything implementing Node can be retired through it.
package memory
